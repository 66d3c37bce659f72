// Package config builds the collector configuration from .env files, environment
// variables, an optional config file and command line flags.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ltd-collector/internal/logging"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverLibSQL   = "libsql"
)

// Config is built once at start and handed to every component.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  logging.Config `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Discord  DiscordConfig  `mapstructure:"discord"`

	// StatusFile receives the completion timestamp of the last successful run.
	StatusFile string `mapstructure:"statusFile"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"baseURL"`
	Key     string        `mapstructure:"key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`

	ConnectAttempts  uint          `mapstructure:"connectAttempts"`
	ConnectBaseDelay time.Duration `mapstructure:"connectBaseDelay"`
}

type PipelineConfig struct {
	QueueTypes []string      `mapstructure:"queueTypes"`
	PageSize   int           `mapstructure:"pageSize"`
	PageBudget int           `mapstructure:"pageBudget"`
	Pacing     time.Duration `mapstructure:"pacing"`
	Dedupe     bool          `mapstructure:"dedupe"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgatewayURL"`
	Job            string `mapstructure:"job"`
}

type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhookURL"`
}

// envBindings maps config keys to the environment variables that may set them, in
// order of precedence. The lowercase names are the ones older deployments use.
var envBindings = map[string][]string{
	"api.baseURL":               {"LTD_API_URL"},
	"api.key":                   {"LTD_API_KEY", "ltd_api_key"},
	"api.timeout":               {"LTD_API_TIMEOUT"},
	"database.driver":           {"DB_DRIVER"},
	"database.dsn":              {"DATABASE_URL"},
	"database.user":             {"DB_USER", "mysql_user"},
	"database.password":         {"DB_PASSWORD", "mysql_password"},
	"database.host":             {"DB_HOST", "mysql_host"},
	"database.port":             {"DB_PORT"},
	"database.name":             {"DB_NAME", "mysql_database"},
	"database.connectAttempts":  {"DB_CONNECT_ATTEMPTS"},
	"database.connectBaseDelay": {"DB_CONNECT_BASE_DELAY"},
	"pipeline.queueTypes":       {"QUEUE_TYPES"},
	"pipeline.pageSize":         {"PAGE_SIZE"},
	"pipeline.pageBudget":       {"PAGE_BUDGET"},
	"pipeline.pacing":           {"PAGE_PACING"},
	"pipeline.dedupe":           {"DEDUPE"},
	"logging.level":             {"LOG_LEVEL"},
	"logging.format":            {"LOG_FORMAT"},
	"logging.file":              {"LOG_FILE"},
	"logging.fileLevel":         {"LOG_FILE_LEVEL"},
	"metrics.pushgatewayURL":    {"PUSHGATEWAY_URL"},
	"metrics.job":               {"METRICS_JOB"},
	"discord.webhookURL":        {"DISCORD_WEBHOOK_URL"},
	"statusFile":                {"STATUS_FILE"},
}

// flagBindings maps command line flags to config keys.
var flagBindings = map[string]string{
	"driver":      "database.driver",
	"dsn":         "database.dsn",
	"queue-types": "pipeline.queueTypes",
	"page-size":   "pipeline.pageSize",
	"page-budget": "pipeline.pageBudget",
	"pacing":      "pipeline.pacing",
	"dedupe":      "pipeline.dedupe",
	"log-level":   "logging.level",
	"log-file":    "logging.file",
	"status-file": "statusFile",
}

// DefaultStatusFile receives the completion timestamp unless configured otherwise.
const DefaultStatusFile = "assets/date_created.json"

// DefaultEnvPaths are the .env locations tried in order; the first one found wins.
var DefaultEnvPaths = []string{".env", "../.env"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.baseURL", "https://apiv2.legiontd2.com")
	v.SetDefault("api.timeout", time.Duration(0))
	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.connectAttempts", 3)
	v.SetDefault("database.connectBaseDelay", 2*time.Second)
	v.SetDefault("pipeline.queueTypes", []string{"Normal", "Classic"})
	v.SetDefault("pipeline.pageSize", 20)
	v.SetDefault("pipeline.pageBudget", 1100)
	v.SetDefault("pipeline.pacing", 500*time.Millisecond)
	v.SetDefault("pipeline.dedupe", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "cpy-errors.log")
	v.SetDefault("logging.fileLevel", "info")
	v.SetDefault("logging.maxSizeMb", 50)
	v.SetDefault("logging.maxBackups", 3)
	v.SetDefault("logging.maxAgeDays", 28)
	v.SetDefault("metrics.job", "ltd_collector")
	v.SetDefault("statusFile", DefaultStatusFile)
}

// RegisterFlags adds the collector's flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML, TOML or JSON config file")
	fs.String("driver", "", "Database driver: postgres, mysql, sqlite or libsql")
	fs.String("dsn", "", "Database connection string; overrides user/password/host/name")
	fs.StringSlice("queue-types", nil, "Queue types to ingest, in order")
	fs.Int("page-size", 0, "Games requested per page")
	fs.Int("page-budget", 0, "Maximum pages fetched per queue type")
	fs.Duration("pacing", 0, "Wait after every API request")
	fs.Bool("dedupe", false, "Drop rows already written earlier in the same run")
	fs.String("log-level", "", "Console log level")
	fs.String("log-file", "", "Persistent log file")
	fs.String("status-file", "", "File receiving the completion timestamp")
}

// Load reads .env files, the environment, the optional config file and any flags
// that were explicitly set. fs may be nil.
func Load(fs *pflag.FlagSet, envPaths ...string) (Config, error) {
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return Config{}, errors.Wrapf(err, "bind env for %s", key)
		}
	}

	if fs != nil {
		for name, key := range flagBindings {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, errors.Wrapf(err, "bind flag %s", name)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return Config{}, errors.Wrapf(err, "read config file %s", f.Value.String())
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	cfg.Pipeline.QueueTypes = splitList(cfg.Pipeline.QueueTypes)
	return cfg, cfg.Validate()
}

// splitList accepts both ["Normal","Classic"] and a single "Normal,Classic" element
// as produced by a comma separated environment variable.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects configurations the collector cannot run with.
func (c Config) Validate() error {
	if c.API.Key == "" {
		return errors.New("api key is not set (LTD_API_KEY or ltd_api_key)")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite, DriverLibSQL:
	default:
		return errors.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.ConnectAttempts == 0 {
		return errors.New("database.connectAttempts must be at least 1")
	}
	if c.Pipeline.PageSize <= 0 {
		return errors.Errorf("pipeline.pageSize must be positive, got %d", c.Pipeline.PageSize)
	}
	if c.Pipeline.PageBudget <= 0 {
		return errors.Errorf("pipeline.pageBudget must be positive, got %d", c.Pipeline.PageBudget)
	}
	if len(c.Pipeline.QueueTypes) == 0 {
		return errors.New("pipeline.queueTypes is empty")
	}
	return nil
}

// ConnectionString returns the explicit DSN, or assembles one for the configured driver.
func (d DatabaseConfig) ConnectionString() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   d.hostPort(5432),
			Path:   "/" + d.Name,
		}
		return u.String()
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = d.hostPort(3306)
		mc.DBName = d.Name
		return mc.FormatDSN()
	case DriverLibSQL:
		if d.Password == "" {
			return d.Host
		}
		return fmt.Sprintf("%s?authToken=%s", d.Host, url.QueryEscape(d.Password))
	default:
		return d.Name
	}
}

func (d DatabaseConfig) hostPort(defaultPort int) string {
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	port := d.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
