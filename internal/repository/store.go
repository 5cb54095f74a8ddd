package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Store owns the ledger's connection pool. Balance and status changes go
// through RunInTx; reads that need no atomicity use Queries directly.
type Store struct {
	db      *sql.DB
	queries *Queries
	txOpts  *sql.TxOptions
}

// NewStore wraps db. Postgres transactions run at READ COMMITTED and rely on
// row locks taken by the balance queries; SQLite serialises writers anyway.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	s := &Store{db: db, queries: New(db, dialect)}
	if dialect == DialectPostgres {
		s.txOpts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return s
}

func (s *Store) Queries() *Queries { return s.queries }

// DB is the raw pool, used by readiness checks and tests.
func (s *Store) DB() *sql.DB { return s.db }

// RunInTx commits when fn returns nil and rolls back otherwise, including
// when fn panics.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := s.db.BeginTx(ctx, s.txOpts)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback ledger tx: %w", rbErr))
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}
