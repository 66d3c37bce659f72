package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ltd-collector/internal/collector"
	"ltd-collector/internal/db"
	"ltd-collector/internal/leaks"
)

func testSummary() collector.Summary {
	return collector.Summary{
		Queues: []collector.QueueResult{
			{QueueType: "Normal", Pages: 412, Games: 8240, Rows: 1532, Stop: collector.StopExhausted},
			{QueueType: "Classic", Pages: 3, Games: 60, Rows: 2, Skipped: 1, Stop: collector.StopFetchFailed},
		},
		CompletedAt: time.Date(2024, 3, 1, 2, 3, 4, 0, time.UTC),
	}
}

func TestRunCompletedPayload(t *testing.T) {
	payload := NewRunCompletedPayload(testSummary(), 14*time.Minute+5*time.Second)

	require.Len(t, payload.Embeds, 1)
	embed := payload.Embeds[0]
	assert.Empty(t, payload.Content)
	assert.Equal(t, colorGreen, embed.Color)
	assert.Equal(t, "1,534 rows from 8,300 games", embed.Description)
	assert.Equal(t, "2024-03-01T02:03:04Z", embed.Timestamp)

	require.Len(t, embed.Fields, 3)
	assert.Equal(t, "Normal", embed.Fields[0].Name)
	assert.Equal(t, "1,532 rows / 8,240 games / 412 pages (exhausted)", embed.Fields[0].Value)
	assert.Equal(t, "2 rows / 60 games / 3 pages (fetch_failed), 1 duplicates", embed.Fields[1].Value)
	assert.Equal(t, "Runtime", embed.Fields[2].Name)
	assert.Equal(t, "0h 14m 5s", embed.Fields[2].Value)
}

func TestRunFailedPayload(t *testing.T) {
	runErr := errors.New(strings.Repeat("x", 2000))
	payload := NewRunFailedPayload(collector.Summary{}, runErr, time.Second)

	assert.Contains(t, payload.Content, "@here")
	require.Len(t, payload.Embeds, 1)
	embed := payload.Embeds[0]
	assert.Equal(t, colorRed, embed.Color)
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "Error", embed.Fields[0].Name)
	assert.Len(t, embed.Fields[0].Value, maxFieldValue)
	assert.True(t, strings.HasSuffix(embed.Fields[0].Value, "..."))
	assert.Nil(t, embed.Footer)
}

func TestRunFailedPayload_RollbackFooter(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		rollback bool
	}{
		{"insert failure", fmt.Errorf("queue type Normal: %w: row 3: duplicate", db.ErrInsert), true},
		{"malformed record", fmt.Errorf("page at offset 40: %w", leaks.ErrMalformedRecord), false},
		{"status file", errors.New("failed to move status file into place"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embed := NewRunFailedPayload(collector.Summary{}, tt.err, time.Second).Embeds[0]
			if tt.rollback {
				require.NotNil(t, embed.Footer)
				assert.Contains(t, embed.Footer.Text, "rolled back")
			} else {
				assert.Nil(t, embed.Footer)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	long := strings.Repeat("é", 20)
	got := truncate(long, 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 10, utf8.RuneCountInString(got))
	assert.Equal(t, strings.Repeat("é", 7)+"...", got)
}

func TestSendRunCompleted(t *testing.T) {
	var received WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewWebhookClient(server.URL)
	require.NoError(t, client.SendRunCompleted(context.Background(), testSummary(), time.Minute))

	require.Len(t, received.Embeds, 1)
	assert.Contains(t, received.Embeds[0].Title, "finished")
}

func TestSendRunFailed_RateLimited(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewWebhookClient(server.URL)
	err := client.SendRunFailed(context.Background(), testSummary(), errors.New("insert failed"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSend_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewWebhookClient(server.URL).SendRunCompleted(context.Background(), testSummary(), time.Minute)
	assert.Error(t, err)
}

func TestFormatNumber(t *testing.T) {
	tests := map[int]string{0: "0", 999: "999", 1000: "1,000", 47832: "47,832", 1234567: "1,234,567"}
	for n, want := range tests {
		assert.Equal(t, want, formatNumber(n))
	}
}
