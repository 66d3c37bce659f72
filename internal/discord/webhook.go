// Package discord posts run summaries to a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"ltd-collector/internal/collector"
	"ltd-collector/internal/db"
)

const (
	// Colors for Discord embeds
	colorRed   = 15158332 // 0xE74C3C
	colorGreen = 5763719  // 0x57F287

	defaultWebhookTimeout = 10 * time.Second

	// Max retries for rate limiting
	maxRetries = 3

	// Discord rejects longer field values
	maxFieldValue = 1024
)

// WebhookPayload represents a Discord webhook message
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord embed
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// NewRunCompletedPayload reports the rows written per queue type.
func NewRunCompletedPayload(summary collector.Summary, runtime time.Duration) WebhookPayload {
	fields := make([]EmbedField, 0, len(summary.Queues)+1)
	for _, q := range summary.Queues {
		fields = append(fields, queueField(q))
	}
	fields = append(fields, EmbedField{
		Name:   "Runtime",
		Value:  formatDuration(runtime),
		Inline: true,
	})

	return WebhookPayload{
		Embeds: []Embed{
			{
				Title:       "✅ Pro leak collection finished",
				Description: fmt.Sprintf("%s rows from %s games", formatNumber(summary.Rows()), formatNumber(summary.Games())),
				Color:       colorGreen,
				Fields:      fields,
				Timestamp:   summary.CompletedAt.UTC().Format(time.RFC3339),
			},
		},
	}
}

// NewRunFailedPayload reports a run that ended on a fatal error, with whatever
// was written before it.
func NewRunFailedPayload(summary collector.Summary, runErr error, runtime time.Duration) WebhookPayload {
	fields := []EmbedField{
		{
			Name:  "Error",
			Value: truncate(runErr.Error(), maxFieldValue),
		},
	}
	for _, q := range summary.Queues {
		fields = append(fields, queueField(q))
	}
	fields = append(fields, EmbedField{
		Name:   "Runtime",
		Value:  formatDuration(runtime),
		Inline: true,
	})

	embed := Embed{
		Title:  "❌ Pro leak collection failed",
		Color:  colorRed,
		Fields: fields,
	}
	if errors.Is(runErr, db.ErrInsert) {
		embed.Footer = &EmbedFooter{Text: "Rows of the failing page were rolled back"}
	}

	return WebhookPayload{
		Content: "@here collection run failed",
		Embeds:  []Embed{embed},
	}
}

func queueField(q collector.QueueResult) EmbedField {
	value := fmt.Sprintf("%s rows / %s games / %d pages (%s)",
		formatNumber(q.Rows), formatNumber(q.Games), q.Pages, q.Stop)
	if q.Skipped > 0 {
		value += fmt.Sprintf(", %s duplicates", formatNumber(q.Skipped))
	}
	return EmbedField{
		Name:   q.QueueType,
		Value:  value,
		Inline: true,
	}
}

// WebhookClient sends notifications to Discord webhooks
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewWebhookClient creates a new WebhookClient
func NewWebhookClient(webhookURL string) *WebhookClient {
	return &WebhookClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: defaultWebhookTimeout,
		},
	}
}

func (c *WebhookClient) SendRunCompleted(ctx context.Context, summary collector.Summary, runtime time.Duration) error {
	return c.sendPayload(ctx, NewRunCompletedPayload(summary, runtime))
}

func (c *WebhookClient) SendRunFailed(ctx context.Context, summary collector.Summary, runErr error, runtime time.Duration) error {
	return c.sendPayload(ctx, NewRunFailedPayload(summary, runErr, runtime))
}

// sendPayload sends a webhook payload with retry on rate limiting
func (c *WebhookClient) sendPayload(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		resp.Body.Close()

		// Discord returns 204 No Content
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := time.Second
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				waitDuration = time.Duration(seconds) * time.Second
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook request failed after %d retries", maxRetries)
}

// formatNumber formats a number with commas (e.g., 47832 -> "47,832")
func formatNumber(n int) string {
	s := strconv.Itoa(n)
	if n < 1000 {
		return s
	}
	var result bytes.Buffer
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteByte(',')
		}
		result.WriteRune(c)
	}
	return result.String()
}

// formatDuration formats a duration as "Xh Ym Zs"
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}

// truncate limits s to n characters, counted in runes as Discord counts them.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
