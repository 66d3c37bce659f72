// Package ltd is a minimal client for the Legion TD 2 statistics API.
package ltd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://apiv2.legiontd2.com"

	gamesPath  = "/games"
	dateLayout = "2006-01-02"
	// every window bound sits on midnight
	midnight = " 00:00:00"
)

var (
	// ErrFetch marks a page request that failed in transport or returned a non-2xx status.
	ErrFetch = errors.New("fetch failed")
	// ErrUnauthorized is wrapped together with ErrFetch on 401 and 403 responses.
	ErrUnauthorized = errors.New("api key rejected")
	// ErrMalformedResponse marks a 2xx body that is not a JSON array of games.
	ErrMalformedResponse = errors.New("malformed response")
)

// Client fetches pages of games. It keeps no state between calls.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing)
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTimeout sets the HTTP client timeout. Zero leaves the transport default.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithClock replaces the clock used to compute the date window.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithLogger sets the logger used to report failed requests.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

// NewClient creates a client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Window returns the dateAfter and dateBefore bounds for the given instant:
// yesterday 00:00:00 through today 00:00:00, UTC.
func Window(now time.Time) (after, before string) {
	today := now.UTC()
	return today.AddDate(0, 0, -1).Format(dateLayout) + midnight, today.Format(dateLayout) + midnight
}

// gamesURL builds the page URL. Parameters keep the order the API documents and
// spaces are encoded as %20.
func (c *Client) gamesURL(queueType string, limit, offset int) string {
	after, before := Window(c.now())
	params := [][2]string{
		{"limit", strconv.Itoa(limit)},
		{"offset", strconv.Itoa(offset)},
		{"sortBy", "date"},
		{"sortDirection", "1"},
		{"dateBefore", before},
		{"dateAfter", after},
		{"includeDetails", "true"},
		{"countResults", "false"},
		{"queueType", queueType},
	}
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString(gamesPath)
	for i, p := range params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(strings.ReplaceAll(url.QueryEscape(p[1]), "+", "%20"))
	}
	return b.String()
}

// Fetch requests one page of games for queueType. An empty result with a nil
// error means the window has no more games at this offset.
// Failures are not retried here.
func (c *Client) Fetch(ctx context.Context, queueType string, limit, offset int) ([]Game, error) {
	endpoint := c.gamesURL(queueType, limit, offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("queue_type", queueType).Int("offset", offset).Msg("request failed")
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("queue_type", queueType).
			Int("offset", offset).
			Msg("api returned an error status")
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: status %d: %w", ErrFetch, resp.StatusCode, ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	return decodeGames(body)
}

func decodeGames(body []byte) ([]Game, error) {
	trimmed := bytes.TrimSpace(body)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var games []Game
	if err := json.Unmarshal(trimmed, &games); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return games, nil
}
