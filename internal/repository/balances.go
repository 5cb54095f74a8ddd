package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/google/uuid"
)

const balanceColumns = `user_id, network, available, pending_deposit, pending_withdrawal, updated_at`

// EnsureBalance creates a zero balance row for the pair if none exists.
func (q *Queries) EnsureBalance(ctx context.Context, userID uuid.UUID, network string, now time.Time) error {
	_, err := q.exec(ctx, `INSERT INTO balances (`+balanceColumns+`) VALUES ($1, $2, 0, 0, 0, $3)
		ON CONFLICT (user_id, network) DO NOTHING`, userID, network, now.UTC())
	return err
}

// GetBalanceForUpdate reads a balance and, on Postgres, row-locks it.
func (q *Queries) GetBalanceForUpdate(ctx context.Context, userID uuid.UUID, network string) (models.Balance, error) {
	row := q.queryRow(ctx, `SELECT `+balanceColumns+` FROM balances WHERE user_id = $1 AND network = $2`+q.forUpdate(), userID, network)
	var b models.Balance
	err := row.Scan(&b.UserID, &b.Network, &b.Available, &b.PendingDeposit, &b.PendingWithdrawal, &b.UpdatedAt)
	return b, notFound(err)
}

type ApplyBalanceDeltaParams struct {
	UserID            uuid.UUID
	Network           string
	Available         int64
	PendingDeposit    int64
	PendingWithdrawal int64
	UpdatedAt         time.Time
}

// ApplyBalanceDelta adds the deltas to a balance row. It moves no row when
// any bucket would go negative.
func (q *Queries) ApplyBalanceDelta(ctx context.Context, arg ApplyBalanceDeltaParams) (int64, error) {
	return q.exec(ctx, `UPDATE balances
		SET available = available + $1,
			pending_deposit = pending_deposit + $2,
			pending_withdrawal = pending_withdrawal + $3,
			updated_at = $4
		WHERE user_id = $5 AND network = $6
			AND available + $7 >= 0 AND pending_deposit + $8 >= 0 AND pending_withdrawal + $9 >= 0`,
		arg.Available, arg.PendingDeposit, arg.PendingWithdrawal, arg.UpdatedAt.UTC(), arg.UserID, arg.Network,
		arg.Available, arg.PendingDeposit, arg.PendingWithdrawal)
}

func (q *Queries) ListUserBalances(ctx context.Context, userID uuid.UUID) ([]models.Balance, error) {
	rows, err := q.query(ctx, `SELECT `+balanceColumns+` FROM balances WHERE user_id = $1 ORDER BY network`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user balances: %w", err)
	}
	return scanBalances(rows)
}

func (q *Queries) ListAllBalances(ctx context.Context) ([]models.Balance, error) {
	rows, err := q.query(ctx, `SELECT `+balanceColumns+` FROM balances ORDER BY user_id, network`)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return scanBalances(rows)
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

func scanBalances(rows rowsScanner) ([]models.Balance, error) {
	defer rows.Close()
	var out []models.Balance
	for rows.Next() {
		var b models.Balance
		if err := rows.Scan(&b.UserID, &b.Network, &b.Available, &b.PendingDeposit, &b.PendingWithdrawal, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
