package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"ltd-collector/internal/leaks"
)

// ErrInsert marks a page whose transaction failed and was rolled back.
var ErrInsert = errors.New("insert failed")

var matchDataColumns = []string{
	"GAME_ID",
	"GAME_VERSION",
	"datetime",
	"queueType",
	"PLAYER_NAME",
	"PLAYER_LEGION",
	"PLAYER_BUILDPERWAVE",
	"PLAYER_MERCSRECEIVED",
	"PLAYER_LEAKSPERWAVE",
}

// InsertStatement returns the match_data insert using the dialect's placeholders.
func InsertStatement(d Dialect) string {
	marks := make([]string, len(matchDataColumns))
	for i := range marks {
		if d == Postgres {
			marks[i] = fmt.Sprintf("$%d", i+1)
		} else {
			marks[i] = "?"
		}
	}
	return "INSERT INTO match_data (" + strings.Join(matchDataColumns, ", ") +
		") VALUES (" + strings.Join(marks, ", ") + ")"
}

func rowArgs(r leaks.Row) []any {
	return []any{
		r.GameID,
		r.Version,
		r.Date,
		r.QueueType,
		r.PlayerName,
		r.Legion,
		r.BuildPerWave,
		r.MercenariesReceivedPerWave,
		r.LeaksPerWave,
	}
}

// Persist inserts rows one at a time in a single transaction and commits once.
// Any failure rolls the whole page back and is returned wrapping ErrInsert.
func Persist(ctx context.Context, conn Conn, rows []leaks.Row) (err error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrInsert, err)
	}
	defer func() {
		if err != nil {
			// rollback errors are secondary to the insert failure
			_ = tx.Rollback(ctx)
		}
	}()

	query := InsertStatement(conn.Dialect())
	for i, r := range rows {
		if err = tx.Exec(ctx, query, rowArgs(r)...); err != nil {
			return fmt.Errorf("%w: row %d (game %q, player %q): %w", ErrInsert, i, r.GameID, r.PlayerName, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrInsert, err)
	}
	return nil
}

// Gateway writes pages of rows, opening a fresh connection for each page.
type Gateway struct {
	dialer Dialer
	policy RetryPolicy
	log    zerolog.Logger
}

// NewGateway creates a Gateway dialing through dialer.
func NewGateway(dialer Dialer, policy RetryPolicy, logger zerolog.Logger) *Gateway {
	return &Gateway{
		dialer: dialer,
		policy: policy,
		log:    logger,
	}
}

// WritePage connects, persists rows and always releases the connection.
// Errors wrap ErrConnectionExhausted or ErrInsert.
func (g *Gateway) WritePage(ctx context.Context, rows []leaks.Row) error {
	conn, err := Connect(ctx, g.dialer, g.policy, g.log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(ctx); cerr != nil {
			g.log.Warn().Err(cerr).Msg("failed to close connection")
		}
	}()

	if err := Persist(ctx, conn, rows); err != nil {
		return err
	}
	g.log.Debug().Int("rows", len(rows)).Msg("page committed")
	return nil
}
