package ltd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)

const pageJSON = `[
  {
    "_id": "abc123",
    "version": "v11.05.2",
    "date": "2024-02-29T12:34:56.789Z",
    "queueType": "Normal",
    "votedmode": "Normal",
    "endingWave": 14,
    "playersData": [
      {
        "playerName": "Kingdom",
        "legion": "Element",
        "buildPerWave": [["U001:4.5|0"], ["U001:4.5|0", "U002:6|1"], [], ["U003:7|2"]],
        "mercenariesReceivedPerWave": [["Snail"], [], ["Lizard"], []],
        "leaksPerWave": [["Crab"], ["Crab", "Wale"], ["Hopper"], []]
      },
      {
        "playerName": "Remote",
        "legion": "Grove",
        "cross": true,
        "buildPerWave": [],
        "mercenariesReceivedPerWave": [],
        "leaksPerWave": []
      }
    ]
  }
]`

func TestFetch_BuildsRequestAndDecodes(t *testing.T) {
	var gotQuery, gotKey, gotAccept, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-api-key")
		gotAccept = r.Header.Get("accept")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(pageJSON))
	}))
	defer server.Close()

	client := NewClient("ltd-key", WithBaseURL(server.URL+"/"), WithClock(func() time.Time { return fixedNow }))

	games, err := client.Fetch(context.Background(), "Normal", 20, 40)
	require.NoError(t, err)

	assert.Equal(t, "/games", gotPath)
	assert.Equal(t, "ltd-key", gotKey)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t,
		"limit=20&offset=40&sortBy=date&sortDirection=1"+
			"&dateBefore=2024-03-01%2000%3A00%3A00&dateAfter=2024-02-29%2000%3A00%3A00"+
			"&includeDetails=true&countResults=false&queueType=Normal",
		gotQuery)

	require.Len(t, games, 1)
	g := games[0]
	assert.Equal(t, "abc123", g.GameID())
	assert.True(t, g.VotedMode.Present)
	require.NotNil(t, g.VotedMode.Value)
	assert.Equal(t, "Normal", *g.VotedMode.Value)
	require.Len(t, g.PlayersData, 2)
	assert.Nil(t, g.PlayersData[0].Cross)
	assert.Len(t, g.PlayersData[0].LeaksPerWave, 4)
	assert.Equal(t, []string{"Crab", "Wale"}, g.PlayersData[0].LeaksPerWave[1])
	require.NotNil(t, g.PlayersData[1].Cross)
	assert.True(t, *g.PlayersData[1].Cross)
	assert.NotNil(t, g.PlayersData[1].LeaksPerWave, "present but empty keys must stay non-nil")
}

func TestFetch_EmptyPage(t *testing.T) {
	for _, body := range []string{"[]", "null"} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		games, err := NewClient("k", WithBaseURL(server.URL)).Fetch(context.Background(), "Classic", 20, 0)
		server.Close()

		require.NoError(t, err, body)
		assert.Empty(t, games, body)
	}
}

func TestFetch_ErrorStatus(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		unauthorized bool
	}{
		{"server error", http.StatusInternalServerError, false},
		{"rate limited", http.StatusTooManyRequests, false},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, true},
		{"forbidden", http.StatusForbidden, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			}))
			defer server.Close()

			games, err := NewClient("k", WithBaseURL(server.URL)).Fetch(context.Background(), "Normal", 20, 0)
			assert.Nil(t, games)
			assert.True(t, errors.Is(err, ErrFetch))
			assert.Equal(t, tt.unauthorized, errors.Is(err, ErrUnauthorized))
		})
	}
}

func TestFetch_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := NewClient("k", WithBaseURL(addr), WithTimeout(time.Second)).Fetch(context.Background(), "Normal", 20, 0)
	assert.True(t, errors.Is(err, ErrFetch))

	var urlErr *url.Error
	assert.True(t, errors.As(err, &urlErr), "transport error stays in the chain")
}

func TestDecodeGames_VotedModeKey(t *testing.T) {
	games, err := decodeGames([]byte(`[
		{"_id": "set", "votedmode": "Normal", "playersData": []},
		{"_id": "null", "votedmode": null, "playersData": []},
		{"_id": "missing", "playersData": []}
	]`))
	require.NoError(t, err)
	require.Len(t, games, 3)

	assert.Equal(t, Keyed("Normal"), games[0].VotedMode)
	assert.Equal(t, KeyedString{Present: true}, games[1].VotedMode)
	assert.Equal(t, KeyedString{}, games[2].VotedMode)
}

func TestFetch_MalformedBody(t *testing.T) {
	for _, body := range []string{"", `{"games":[]}`, `[{"_id": 5}]`, `[{"playersData":[{"leaksPerWave":[[1,2]]}]}]`} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		_, err := NewClient("k", WithBaseURL(server.URL)).Fetch(context.Background(), "Normal", 20, 0)
		server.Close()

		assert.True(t, errors.Is(err, ErrMalformedResponse), "body %q: %v", body, err)
		assert.False(t, errors.Is(err, ErrFetch), body)
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		after  string
		before string
	}{
		{"midday", fixedNow, "2024-02-29 00:00:00", "2024-03-01 00:00:00"},
		{"just before midnight", time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC), "2024-12-30 00:00:00", "2024-12-31 00:00:00"},
		{"new year", time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC), "2024-12-31 00:00:00", "2025-01-01 00:00:00"},
		{"non-utc input", time.Date(2024, 3, 1, 1, 0, 0, 0, time.FixedZone("CET", 3600*2)), "2024-02-28 00:00:00", "2024-02-29 00:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			after, before := Window(tt.now)
			assert.Equal(t, tt.after, after)
			assert.Equal(t, tt.before, before)
		})
	}
}

func TestFetch_WindowRecomputedPerCall(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("dateBefore"))
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	now := time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)
	client := NewClient("k", WithBaseURL(server.URL), WithClock(func() time.Time { return now }))

	_, err := client.Fetch(context.Background(), "Normal", 20, 0)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	_, err = client.Fetch(context.Background(), "Normal", 20, 20)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-03-01 00:00:00", "2024-03-02 00:00:00"}, queries)
}
