package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/google/uuid"
)

const transactionColumns = `id, user_id, kind, network, amount, fee, usd_amount, from_address, to_address,
	chain_hash, status, confirmations, required_confirmations, reserved_at, reason, notes,
	created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		t           models.Transaction
		usd         sql.NullInt64
		chainHash   sql.NullString
		reservedAt  sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Network, &t.Amount, &t.Fee, &usd, &t.FromAddress, &t.ToAddress,
		&chainHash, &t.Status, &t.Confirmations, &t.RequiredConfirmations, &reservedAt, &t.Reason, &t.Notes,
		&t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return models.Transaction{}, err
	}
	if usd.Valid {
		t.USDAmount = &usd.Int64
	}
	if chainHash.Valid {
		t.ChainHash = &chainHash.String
	}
	if reservedAt.Valid {
		ts := reservedAt.Time
		t.ReservedAt = &ts
	}
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const insertTransaction = `INSERT INTO transactions (` + transactionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

// InsertTransaction stores a new transaction row. A unique violation means
// (network, chain_hash) is already taken.
func (q *Queries) InsertTransaction(ctx context.Context, t models.Transaction) error {
	_, err := q.exec(ctx, insertTransaction,
		t.ID, t.UserID, t.Kind, t.Network, t.Amount, t.Fee, nullInt64(t.USDAmount), t.FromAddress, t.ToAddress,
		nullString(t.ChainHash), t.Status, t.Confirmations, t.RequiredConfirmations, nullTime(t.ReservedAt), t.Reason, t.Notes,
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(), nullTime(t.CompletedAt))
	return err
}

func (q *Queries) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	row := q.queryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	return t, notFound(err)
}

// GetTransactionForUpdate reads a transaction and, on Postgres, row-locks it.
func (q *Queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	row := q.queryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`+q.forUpdate(), id)
	t, err := scanTransaction(row)
	return t, notFound(err)
}

func (q *Queries) GetTransactionByChainHash(ctx context.Context, network, chainHash string) (models.Transaction, error) {
	row := q.queryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE network = $1 AND chain_hash = $2`, network, chainHash)
	t, err := scanTransaction(row)
	return t, notFound(err)
}

type FindUnmatchedDepositParams struct {
	Network   string
	ToAddress string
	Amount    *int64
}

// FindUnmatchedDeposit returns the oldest reserved automatic deposit to an
// address that has not been linked to a chain transaction yet.
func (q *Queries) FindUnmatchedDeposit(ctx context.Context, arg FindUnmatchedDepositParams) (models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE network = $1 AND to_address = $2 AND kind = 'DEPOSIT' AND status = 'PENDING' AND chain_hash IS NULL`
	args := []any{arg.Network, arg.ToAddress}
	if arg.Amount != nil {
		query += ` AND amount = $3`
		args = append(args, *arg.Amount)
	}
	query += ` ORDER BY created_at ASC LIMIT 1`
	t, err := scanTransaction(q.queryRow(ctx, query, args...))
	return t, notFound(err)
}

// ListAwaitingDepositAddresses returns the addresses on a network that have
// at least one automatic deposit still waiting for its chain transaction.
func (q *Queries) ListAwaitingDepositAddresses(ctx context.Context, network string) ([]string, error) {
	rows, err := q.query(ctx, `SELECT DISTINCT to_address FROM transactions
		WHERE network = $1 AND kind = 'DEPOSIT' AND status = 'PENDING' AND chain_hash IS NULL
		ORDER BY to_address`, network)
	if err != nil {
		return nil, fmt.Errorf("list awaiting deposit addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

type UpdateTransactionStatusParams struct {
	ID          uuid.UUID
	FromStatus  string
	ToStatus    string
	Reason      string
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// UpdateTransactionStatus is a compare-and-set on status; it returns the
// number of rows moved.
func (q *Queries) UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error) {
	return q.exec(ctx, `UPDATE transactions
		SET status = $1, reason = $2, completed_at = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		arg.ToStatus, arg.Reason, nullTime(arg.CompletedAt), arg.UpdatedAt.UTC(), arg.ID, arg.FromStatus)
}

func (q *Queries) UpdateConfirmations(ctx context.Context, id uuid.UUID, confirmations int, updatedAt time.Time) (int64, error) {
	return q.exec(ctx, `UPDATE transactions SET confirmations = $1, updated_at = $2 WHERE id = $3 AND confirmations < $4`,
		confirmations, updatedAt.UTC(), id, confirmations)
}

// AttachChainHash sets the hash once. A unique violation means another
// transaction on the network already owns it.
func (q *Queries) AttachChainHash(ctx context.Context, id uuid.UUID, chainHash string, updatedAt time.Time) (int64, error) {
	return q.exec(ctx, `UPDATE transactions SET chain_hash = $1, updated_at = $2 WHERE id = $3 AND chain_hash IS NULL`,
		chainHash, updatedAt.UTC(), id)
}

func (q *Queries) MarkReserved(ctx context.Context, id uuid.UUID, reservedAt time.Time) (int64, error) {
	return q.exec(ctx, `UPDATE transactions SET reserved_at = $1, updated_at = $2 WHERE id = $3 AND reserved_at IS NULL`,
		reservedAt.UTC(), reservedAt.UTC(), id)
}

type ListUserTransactionsParams struct {
	UserID  uuid.UUID
	Network string
	Limit   int
	Offset  int
}

func (q *Queries) ListUserTransactions(ctx context.Context, arg ListUserTransactionsParams) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []any{arg.UserID}
	if arg.Network != "" {
		query += ` AND network = $2`
		args = append(args, arg.Network)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, arg.Limit, arg.Offset)
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list user transactions: %w", err)
	}
	return scanTransactions(rows)
}

func (q *Queries) ListTransactionsByStatus(ctx context.Context, status string, limit, offset int) ([]models.Transaction, error) {
	rows, err := q.query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions by status: %w", err)
	}
	return scanTransactions(rows)
}

func (q *Queries) CountTransactionsByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE status = $1`, status).Scan(&n)
	return n, err
}

// ListUndispatchedWithdrawals returns reserved withdrawals that have not been
// handed to the signer.
func (q *Queries) ListUndispatchedWithdrawals(ctx context.Context, limit int) ([]models.Transaction, error) {
	rows, err := q.query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE kind IN ('WITHDRAWAL', 'MANUAL_WITHDRAWAL_REQUEST') AND status = 'PENDING'
		AND chain_hash IS NULL AND reserved_at IS NOT NULL
		ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list undispatched withdrawals: %w", err)
	}
	return scanTransactions(rows)
}

// ListInFlight returns transactions on a network that wait for confirmations
// of a known chain hash.
func (q *Queries) ListInFlight(ctx context.Context, network string, limit int) ([]models.Transaction, error) {
	rows, err := q.query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE network = $1 AND status IN ('PENDING', 'PROCESSING', 'CONFIRMED') AND chain_hash IS NOT NULL
		ORDER BY updated_at ASC LIMIT $2`, network, limit)
	if err != nil {
		return nil, fmt.Errorf("list in-flight transactions: %w", err)
	}
	return scanTransactions(rows)
}

// ListExpired returns reserved, unsettled transactions on a network whose
// reservation is older than cutoff. Claimed withdrawals without a hash are
// left out: the signer may already have sent them.
func (q *Queries) ListExpired(ctx context.Context, network string, cutoff time.Time, limit int) ([]models.Transaction, error) {
	rows, err := q.query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE network = $1 AND status IN ('PENDING', 'PROCESSING', 'CONFIRMED')
		AND NOT (status = 'PROCESSING' AND chain_hash IS NULL)
		AND reserved_at IS NOT NULL AND reserved_at < $2
		ORDER BY reserved_at ASC LIMIT $3`, network, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired transactions: %w", err)
	}
	return scanTransactions(rows)
}

// CountUnlinkedBroadcasts counts claimed withdrawals on a network that have
// had no chain hash since before cutoff.
func (q *Queries) CountUnlinkedBroadcasts(ctx context.Context, network string, cutoff time.Time) (int64, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM transactions
		WHERE network = $1 AND status = 'PROCESSING' AND chain_hash IS NULL
		AND reserved_at IS NOT NULL AND reserved_at < $2`, network, cutoff.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unlinked broadcasts: %w", err)
	}
	return n, nil
}

// LedgerTotal is an aggregate of transactions sharing user, network, kind,
// status and reservation state.
type LedgerTotal struct {
	UserID    uuid.UUID
	Network   string
	Kind      string
	Status    string
	Reserved  bool
	Amount    int64
	Fee       int64
	USDAmount int64
}

func (q *Queries) SumTransactions(ctx context.Context) ([]LedgerTotal, error) {
	rows, err := q.query(ctx, `SELECT user_id, network, kind, status,
		CASE WHEN reserved_at IS NULL THEN 0 ELSE 1 END AS reserved,
		CAST(COALESCE(SUM(amount), 0) AS BIGINT), CAST(COALESCE(SUM(fee), 0) AS BIGINT),
		CAST(COALESCE(SUM(usd_amount), 0) AS BIGINT)
		FROM transactions
		GROUP BY user_id, network, kind, status, CASE WHEN reserved_at IS NULL THEN 0 ELSE 1 END`)
	if err != nil {
		return nil, fmt.Errorf("sum transactions: %w", err)
	}
	defer rows.Close()

	var out []LedgerTotal
	for rows.Next() {
		var (
			lt       LedgerTotal
			reserved int64
		)
		if err := rows.Scan(&lt.UserID, &lt.Network, &lt.Kind, &lt.Status, &reserved, &lt.Amount, &lt.Fee, &lt.USDAmount); err != nil {
			return nil, fmt.Errorf("scan ledger total: %w", err)
		}
		lt.Reserved = reserved == 1
		out = append(out, lt)
	}
	return out, rows.Err()
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil || strings.TrimSpace(*v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}
