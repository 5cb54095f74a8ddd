package repository

import (
	"context"
	"time"
)

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	InProgress     bool
	ResponseStatus int
	ResponseBody   []byte
	ContentType    string
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	var k IdempotencyKey
	err := q.queryRow(ctx, `SELECT idempotency_key, request_hash, method, path, in_progress, response_status, response_body, content_type
		FROM idempotency_keys WHERE idempotency_key = $1`, key).
		Scan(&k.IdempotencyKey, &k.RequestHash, &k.Method, &k.Path, &k.InProgress, &k.ResponseStatus, &k.ResponseBody, &k.ContentType)
	return k, notFound(err)
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	CreatedAt      time.Time
}

// ReserveIdempotencyKey claims a key; zero rows means someone else holds it.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (int64, error) {
	return q.exec(ctx, `INSERT INTO idempotency_keys
		(idempotency_key, request_hash, method, path, in_progress, response_status, response_body, content_type, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, '', $7)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path, true, []byte{}, arg.CreatedAt.UTC())
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (int64, error) {
	return q.exec(ctx, `UPDATE idempotency_keys
		SET in_progress = $1, response_status = $2, response_body = $3, content_type = $4
		WHERE idempotency_key = $5 AND request_hash = $6`,
		false, arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash)
}

// ReleaseIdempotencyKey drops an unfinished reservation so the client may retry.
func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) (int64, error) {
	return q.exec(ctx, `DELETE FROM idempotency_keys WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress = $3`,
		key, requestHash, true)
}

func (q *Queries) DeleteIdempotencyKeysBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return q.exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1 AND in_progress = $2`, cutoff.UTC(), false)
}
