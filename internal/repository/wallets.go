package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/google/uuid"
)

const walletColumns = `id, user_id, network, address, derivation_index, active, created_at`

func scanWallet(row rowScanner) (models.Wallet, error) {
	var (
		w   models.Wallet
		idx sql.NullInt64
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.Network, &w.Address, &idx, &w.Active, &w.CreatedAt); err != nil {
		return models.Wallet{}, err
	}
	if idx.Valid {
		w.DerivationIndex = &idx.Int64
	}
	return w, nil
}

// InsertWallet stores a wallet. A unique violation means the address is
// already assigned on that network.
func (q *Queries) InsertWallet(ctx context.Context, w models.Wallet) error {
	_, err := q.exec(ctx, `INSERT INTO wallets (`+walletColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.UserID, w.Network, w.Address, nullInt64(w.DerivationIndex), w.Active, w.CreatedAt.UTC())
	return err
}

// GetActiveWallet returns the user's newest active wallet on a network.
func (q *Queries) GetActiveWallet(ctx context.Context, userID uuid.UUID, network string) (models.Wallet, error) {
	row := q.queryRow(ctx, `SELECT `+walletColumns+` FROM wallets
		WHERE user_id = $1 AND network = $2 AND active = $3 ORDER BY created_at DESC LIMIT 1`, userID, network, true)
	w, err := scanWallet(row)
	return w, notFound(err)
}

func (q *Queries) ListUserWallets(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	rows, err := q.query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 ORDER BY network, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()
	var out []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// NextDerivationIndex returns one past the highest index used on a network.
func (q *Queries) NextDerivationIndex(ctx context.Context, network string) (int64, error) {
	var next int64
	err := q.queryRow(ctx, `SELECT CAST(COALESCE(MAX(derivation_index) + 1, 0) AS BIGINT) FROM wallets WHERE network = $1`, network).Scan(&next)
	return next, err
}

// CountWallets returns how many wallets exist on a network.
func (q *Queries) CountWallets(ctx context.Context, network string) (int64, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM wallets WHERE network = $1`, network).Scan(&n)
	return n, err
}
