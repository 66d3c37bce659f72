package collector

import "time"

// StopReason says why a queue type stopped paging.
type StopReason int

const (
	// StopExhausted: the API returned an empty page.
	StopExhausted StopReason = iota
	// StopBudget: the page budget was used up.
	StopBudget
	// StopFetchFailed: a page request failed.
	StopFetchFailed
	// StopConnectionLost: the database could not be reached.
	StopConnectionLost
)

func (r StopReason) String() string {
	switch r {
	case StopExhausted:
		return "exhausted"
	case StopBudget:
		return "budget"
	case StopFetchFailed:
		return "fetch_failed"
	case StopConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// QueueResult is what one queue type produced.
type QueueResult struct {
	QueueType string
	Pages     int
	Games     int
	Rows      int
	Skipped   int
	Stop      StopReason
}

// Summary describes a run. CompletedAt is zero when the run did not finish.
type Summary struct {
	Queues      []QueueResult
	CompletedAt time.Time
}

func (s Summary) Rows() int {
	n := 0
	for _, q := range s.Queues {
		n += q.Rows
	}
	return n
}

func (s Summary) Games() int {
	n := 0
	for _, q := range s.Queues {
		n += q.Games
	}
	return n
}
