// Package collector pages through the games endpoint for each queue type, keeps
// the pro-leak rows and hands each page to the database.
package collector

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"ltd-collector/internal/db"
	"ltd-collector/internal/leaks"
	"ltd-collector/internal/ltd"
	"ltd-collector/internal/metrics"
)

const (
	DefaultPageSize   = 20
	DefaultPageBudget = 1100
	DefaultPacing     = 500 * time.Millisecond
)

// DefaultQueueTypes are collected in this order.
var DefaultQueueTypes = []string{"Normal", "Classic"}

// Fetcher returns one page of games for a queue type.
type Fetcher interface {
	Fetch(ctx context.Context, queueType string, limit, offset int) ([]ltd.Game, error)
}

// PageWriter persists one page of rows.
type PageWriter interface {
	WritePage(ctx context.Context, rows []leaks.Row) error
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds the pipeline tunables.
type Config struct {
	QueueTypes []string
	PageSize   int
	PageBudget int
	// Pacing is the pause after every fetch, successful or not.
	Pacing time.Duration
	// Dedupe drops rows already written earlier in the same run.
	Dedupe bool
}

// DefaultConfig returns the production tunables
func DefaultConfig() Config {
	return Config{
		QueueTypes: append([]string(nil), DefaultQueueTypes...),
		PageSize:   DefaultPageSize,
		PageBudget: DefaultPageBudget,
		Pacing:     DefaultPacing,
	}
}

// Collector drives fetch, filter and persist for each queue type in turn.
type Collector struct {
	fetcher Fetcher
	writer  PageWriter
	config  Config

	log     zerolog.Logger
	metrics *metrics.Metrics
	sleep   SleepFunc
	now     func() time.Time
	seen    *rowFilter
}

// Option configures a Collector
type Option func(*Collector)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Collector) {
		c.log = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

// WithSleep replaces the pacing sleep, mainly so tests don't wait.
func WithSleep(sleep SleepFunc) Option {
	return func(c *Collector) {
		c.sleep = sleep
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// New creates a Collector. Zero values in config fall back to the defaults; a
// negative Pacing disables the pause.
func New(fetcher Fetcher, writer PageWriter, config Config, opts ...Option) *Collector {
	defaults := DefaultConfig()
	if len(config.QueueTypes) == 0 {
		config.QueueTypes = defaults.QueueTypes
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.PageBudget <= 0 {
		config.PageBudget = defaults.PageBudget
	}
	if config.Pacing == 0 {
		config.Pacing = defaults.Pacing
	}

	c := &Collector{
		fetcher: fetcher,
		writer:  writer,
		config:  config,
		log:     zerolog.Nop(),
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if config.Dedupe {
		c.seen = newRowFilter(expectedRows(config))
	}
	return c
}

// Run collects every queue type in order. A queue type that stops on a transient
// condition does not affect the next one. Malformed data, insert failures and
// cancellation end the run and are returned with the partial summary.
func (c *Collector) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	c.log.Info().Strs("queue_types", c.config.QueueTypes).Msg("starting collection")

	for _, queueType := range c.config.QueueTypes {
		result, err := c.collectQueue(ctx, queueType)
		summary.Queues = append(summary.Queues, result)
		if err != nil {
			return summary, errors.Wrapf(err, "queue type %s", queueType)
		}
		c.metrics.QueueStopped(queueType, result.Stop.String())
	}

	summary.CompletedAt = c.now().UTC()
	c.metrics.RunCompleted(summary.CompletedAt.Unix())
	c.log.Info().
		Int("rows", summary.Rows()).
		Int("games", summary.Games()).
		Msg("collection complete")
	return summary, nil
}

func (c *Collector) collectQueue(ctx context.Context, queueType string) (QueueResult, error) {
	result := QueueResult{QueueType: queueType}
	log := c.log.With().Str("queue_type", queueType).Logger()

	for page := 0; page < c.config.PageBudget; page++ {
		offset := page * c.config.PageSize

		games, err := c.fetcher.Fetch(ctx, queueType, c.config.PageSize, offset)
		if serr := c.sleep(ctx, c.config.Pacing); serr != nil {
			return result, serr
		}
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if errors.Is(err, ltd.ErrFetch) {
				log.Warn().Err(err).Int("offset", offset).Msg("fetch failed, stopping queue type")
				result.Stop = StopFetchFailed
				return result, nil
			}
			return result, err
		}
		if len(games) == 0 {
			log.Info().Int("offset", offset).Msg("ran out of data")
			result.Stop = StopExhausted
			return result, nil
		}

		result.Pages++
		result.Games += len(games)
		c.metrics.PageFetched(queueType, len(games))

		rows, err := leaks.Normalize(games)
		if err != nil {
			return result, errors.Wrapf(err, "page at offset %d", offset)
		}
		rows, skipped := c.dedupe(rows)
		if skipped > 0 {
			result.Skipped += skipped
			c.metrics.RowsSkipped(queueType, skipped)
		}
		if len(rows) == 0 {
			continue
		}

		if err := c.writer.WritePage(ctx, rows); err != nil {
			if errors.Is(err, db.ErrConnectionExhausted) {
				log.Error().Err(err).Int("offset", offset).Msg("database unreachable, stopping queue type")
				result.Stop = StopConnectionLost
				return result, nil
			}
			return result, errors.Wrapf(err, "page at offset %d", offset)
		}
		c.remember(rows)
		result.Rows += len(rows)
		c.metrics.RowsWritten(queueType, len(rows))
		log.Debug().Int("offset", offset).Int("games", len(games)).Int("rows", len(rows)).Msg("page written")
	}

	log.Info().Int("pages", result.Pages).Msg("page budget used")
	result.Stop = StopBudget
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
