package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository against a `retries` or
// `waits` table (§3 "Outbox row", composite index on
// `(status, delayed_until, attempt_count)`), using `FOR UPDATE
// SKIP LOCKED` so concurrent processors never claim the same row.
type PostgresRepository struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresRepository binds a repository to one of the two outbox
// tables ("retries" or "waits"); both share the Row shape.
func NewPostgresRepository(pool *pgxpool.Pool, table string) *PostgresRepository {
	return &PostgresRepository{pool: pool, table: table}
}

func (r *PostgresRepository) Insert(ctx context.Context, message string, delayedUntil time.Time) (*Row, error) {
	id := uuid.NewString()
	query := fmt.Sprintf(`INSERT INTO %s (id, message, status, delayed_until, attempt_count, optimistic_version)
		VALUES ($1, $2, 'PENDING', $3, 0, 0)`, r.table)
	if _, err := r.pool.Exec(ctx, query, id, message, delayedUntil); err != nil {
		return nil, fmt.Errorf("insert outbox row: %w", err)
	}
	return &Row{ID: id, Message: message, Status: StatusPending, DelayedUntil: delayedUntil}, nil
}

func (r *PostgresRepository) FindAndLockReadyToProcess(ctx context.Context, limit, maxAttempts int) ([]*Row, error) {
	query := fmt.Sprintf(`SELECT id, message, status, delayed_until, attempt_count, last_error, optimistic_version
		FROM %s
		WHERE status = 'PENDING' AND delayed_until <= now() AND attempt_count < $1
		ORDER BY delayed_until ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, r.table)

	rows, err := r.pool.Query(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("find ready outbox rows: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		var row Row
		var lastErr *string
		if err := rows.Scan(&row.ID, &row.Message, &row.Status, &row.DelayedUntil, &row.AttemptCount, &lastErr, &row.OptimisticVersion); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		if lastErr != nil {
			row.LastError = *lastErr
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkSent(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = 'SENT', optimistic_version = optimistic_version + 1 WHERE id = $1`, r.table)
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *PostgresRepository) MarkRetry(ctx context.Context, id string, nextDelay time.Time, lastErr string, maxAttempts int) error {
	query := fmt.Sprintf(`UPDATE %s SET
			attempt_count = attempt_count + 1,
			last_error = $2,
			delayed_until = $3,
			optimistic_version = optimistic_version + 1,
			status = CASE WHEN attempt_count + 1 >= $4 THEN 'FAILED' ELSE status END
		WHERE id = $1`, r.table)
	_, err := r.pool.Exec(ctx, query, id, lastErr, nextDelay, maxAttempts)
	return err
}

func (r *PostgresRepository) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE status = 'SENT' AND delayed_until < $1`, r.table)
	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
