// Package leaks selects "pro leak" player builds from raw games and flattens them
// into rows ready for the match_data table.
//
// A pro leak is a build that leaks a little on each of the first three waves:
// 1-3 units on waves 1 and 2, 1-6 units on wave 3. Perfect holds and heavy
// leaks are both discarded. The thresholds are fixed.
package leaks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ltd-collector/internal/ltd"
)

const (
	// WavesKept is how many waves of per-wave data survive into a row.
	WavesKept = 3

	// ExcludedVoteMode games never produce rows.
	ExcludedVoteMode = "GigaMercs"

	// RowTimeLayout is the datetime format stored in match_data.
	RowTimeLayout = "2006-01-02 15:04:05"
)

// upper bounds are exclusive, lower bound is always > 0
var maxLeaksPerWave = [WavesKept]int{4, 4, 7}

// ErrMalformedRecord marks a game or player missing a required field or carrying
// an unparseable date. It aborts the whole page.
var ErrMalformedRecord = errors.New("malformed record")

// Row is one player's pro-leak build, flattened for storage.
type Row struct {
	GameID                     string
	Version                    string
	Date                       string
	QueueType                  string
	PlayerName                 string
	Legion                     string
	BuildPerWave               string
	MercenariesReceivedPerWave string
	LeaksPerWave               string
}

// IsProLeak reports whether a player's first three waves match the pro-leak pattern.
// Cross-play entries never match. A player without leaksPerWave is malformed.
func IsProLeak(p ltd.Player) (bool, error) {
	if p.Cross != nil && *p.Cross {
		return false, nil
	}
	if p.LeaksPerWave == nil {
		return false, malformed("player %q has no leaksPerWave", p.Name())
	}
	if len(p.LeaksPerWave) < WavesKept {
		return false, nil
	}
	for wave, limit := range maxLeaksPerWave {
		n := len(p.LeaksPerWave[wave])
		if n <= 0 || n >= limit {
			return false, nil
		}
	}
	return true, nil
}

// Normalize expands games into per-player rows and keeps only pro leaks.
// It is a pure function: the same input always yields the same rows.
func Normalize(games []ltd.Game) ([]Row, error) {
	var rows []Row
	for i, game := range games {
		if game.PlayersData == nil {
			return nil, malformed("game %d (%q) has no playersData", i, game.GameID())
		}
		eligible := voteEligible(game.VotedMode)
		for _, player := range game.PlayersData {
			if !eligible {
				continue
			}
			keep, err := IsProLeak(player)
			if err != nil {
				return nil, fmt.Errorf("game %q: %w", game.GameID(), err)
			}
			if !keep {
				continue
			}
			row, err := newRow(game, player)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// voteEligible reports whether a game's votedmode admits rows: the key must be
// present, and a null value counts as not excluded.
func voteEligible(mode ltd.KeyedString) bool {
	if !mode.Present {
		return false
	}
	return mode.Value == nil || *mode.Value != ExcludedVoteMode
}

func newRow(game ltd.Game, player ltd.Player) (Row, error) {
	id := game.GameID()
	var missing []string
	need := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	need("_id", game.ID != nil)
	need("version", game.Version != nil)
	need("date", game.Date != nil)
	need("queueType", game.QueueType != nil)
	need("playerName", player.PlayerName != nil)
	need("legion", player.Legion != nil)
	need("buildPerWave", player.BuildPerWave != nil)
	need("mercenariesReceivedPerWave", player.MercenariesReceivedPerWave != nil)
	if len(missing) > 0 {
		return Row{}, malformed("game %q player %q missing %s", id, player.Name(), strings.Join(missing, ", "))
	}

	date, err := FormatDate(*game.Date)
	if err != nil {
		return Row{}, fmt.Errorf("game %q: %w", id, err)
	}

	return Row{
		GameID:                     id,
		Version:                    *game.Version,
		Date:                       date,
		QueueType:                  *game.QueueType,
		PlayerName:                 *player.PlayerName,
		Legion:                     *player.Legion,
		BuildPerWave:               FormatWaves(firstWaves(player.BuildPerWave)),
		MercenariesReceivedPerWave: FormatWaves(firstWaves(player.MercenariesReceivedPerWave)),
		LeaksPerWave:               FormatWaves(firstWaves(player.LeaksPerWave)),
	}, nil
}

func firstWaves(waves [][]string) [][]string {
	if len(waves) > WavesKept {
		return waves[:WavesKept]
	}
	return waves
}

// inputLayouts accept a fractional second and a Z, ±HH:MM or ±HHMM offset.
var inputLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
}

// FormatDate converts an API timestamp such as 2024-02-29T12:34:56.789Z into the
// stored form 2024-02-29 12:34:56, keeping the wall clock of the timestamp's own offset.
// The fractional second is mandatory.
func FormatDate(s string) (string, error) {
	if dot := strings.IndexByte(s, '.'); dot < 0 || dot+1 >= len(s) || s[dot+1] < '0' || s[dot+1] > '9' {
		return "", malformed("date %q has no fractional seconds", s)
	}
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(RowTimeLayout), nil
		}
	}
	return "", malformed("unparseable date %q", s)
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...))
}
