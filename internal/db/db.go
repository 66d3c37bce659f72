// Package db writes pro-leak rows into the match_data table.
//
// A connection is opened per page through a Dialer, retried with an exponential
// backoff, and released once the page is committed or rolled back.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Dialect selects the driver and the placeholder style.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
	LibSQL   Dialect = "libsql"
)

// Dialer opens one connection to the datastore.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is a single datastore connection.
type Conn interface {
	Dialect() Dialect
	Begin(ctx context.Context) (Tx, error)
	Close(ctx context.Context) error
}

// Tx is an open transaction on a Conn.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// NewDialer returns a Dialer for the given dialect and connection string.
func NewDialer(dialect Dialect, dsn string) (Dialer, error) {
	switch dialect {
	case Postgres, MySQL, SQLite, LibSQL:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}
	if dsn == "" {
		return nil, errors.New("empty connection string")
	}
	return &dialer{dialect: dialect, dsn: dsn}, nil
}

type dialer struct {
	dialect Dialect
	dsn     string
}

func (d *dialer) Dial(ctx context.Context) (Conn, error) {
	if d.dialect == Postgres {
		conn, err := pgx.Connect(ctx, d.dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		return &pgConn{conn: conn}, nil
	}

	sqlDB, err := sql.Open(string(d.dialect), d.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.dialect, err)
	}
	// one physical connection per page
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", d.dialect, err)
	}
	return &sqlConn{db: sqlDB, dialect: d.dialect}, nil
}

type pgConn struct {
	conn *pgx.Conn
}

func (c *pgConn) Dialect() Dialect { return Postgres }

func (c *pgConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return pgTx{tx: tx}, nil
}

func (c *pgConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.Exec(ctx, query, args...)
	return err
}

func (t pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

type sqlConn struct {
	db      *sql.DB
	dialect Dialect
}

func (c *sqlConn) Dialect() Dialect { return c.dialect }

func (c *sqlConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sqlTx{tx: tx}, nil
}

func (c *sqlConn) Close(context.Context) error {
	return c.db.Close()
}

type sqlTx struct {
	tx *sql.Tx
}

func (t sqlTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t sqlTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t sqlTx) Rollback(context.Context) error { return t.tx.Rollback() }
