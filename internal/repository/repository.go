package repository

import (
	"context"
	"database/sql"
	"regexp"
)

// Dialect names the SQL flavour a Queries instance speaks.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the hand-written statements of the ledger schema. Statements
// are written with $N placeholders, each used once and in ascending order,
// and rebound for SQLite.
type Queries struct {
	db      DBTX
	dialect Dialect
}

func New(db DBTX, dialect Dialect) *Queries {
	return &Queries{db: db, dialect: dialect}
}

// WithTx returns a query set bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, dialect: q.dialect}
}

func (q *Queries) Dialect() Dialect {
	return q.dialect
}

var placeholder = regexp.MustCompile(`\$\d+`)

func (q *Queries) rebind(query string) string {
	if q.dialect == DialectSQLite {
		return placeholder.ReplaceAllString(query, "?")
	}
	return query
}

// forUpdate is appended to row reads that must hold a row lock until commit.
// SQLite serialises writers on the database itself.
func (q *Queries) forUpdate() string {
	if q.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.db.ExecContext(ctx, q.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.rebind(query), args...)
}
