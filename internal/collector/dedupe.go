package collector

import (
	"github.com/bits-and-blooms/bloom/v3"

	"ltd-collector/internal/leaks"
)

const (
	dedupeFalsePositiveRate = 0.001

	// maxPlayersPerGame bounds the rows a single game can contribute.
	maxPlayersPerGame = 8
)

// rowFilter remembers (game id, player name) pairs written during a run. The API
// window slides while paging, so later offsets can serve games already seen.
// A false positive drops a row; at 0.1% that is accepted.
type rowFilter struct {
	written *bloom.BloomFilter
}

// expectedRows is the most rows a run can write: every game of every page of
// every queue type, one row per player.
func expectedRows(config Config) int {
	return config.PageSize * config.PageBudget * maxPlayersPerGame * len(config.QueueTypes)
}

func newRowFilter(expected int) *rowFilter {
	if expected <= 0 {
		expected = 1
	}
	return &rowFilter{written: bloom.NewWithEstimates(uint(expected), dedupeFalsePositiveRate)}
}

func rowKey(r leaks.Row) string {
	return r.GameID + "\x00" + r.PlayerName
}

// dedupe drops rows already written or repeated within the page.
func (c *Collector) dedupe(rows []leaks.Row) ([]leaks.Row, int) {
	if c.seen == nil {
		return rows, 0
	}
	kept := rows[:0:0]
	inPage := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		key := rowKey(r)
		if _, dup := inPage[key]; dup || c.seen.written.TestString(key) {
			continue
		}
		inPage[key] = struct{}{}
		kept = append(kept, r)
	}
	return kept, len(rows) - len(kept)
}

// remember is called only after a page is committed.
func (c *Collector) remember(rows []leaks.Row) {
	if c.seen == nil {
		return
	}
	for _, r := range rows {
		c.seen.written.AddString(rowKey(r))
	}
}
