package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MySQLRepository implements Repository against MySQL/MariaDB.
// MySQL's `SELECT ... FOR UPDATE SKIP LOCKED` (8.0+/10.6+) gives the
// same row-level lock + skip-locked semantics as the Postgres backend;
// claim-then-release is done inside one transaction per scan.
type MySQLRepository struct {
	db    *sql.DB
	table string
}

// NewMySQLRepository binds a repository to one of the two outbox
// tables on a *sql.DB opened with go-sql-driver/mysql.
func NewMySQLRepository(db *sql.DB, table string) *MySQLRepository {
	return &MySQLRepository{db: db, table: table}
}

func (r *MySQLRepository) Insert(ctx context.Context, message string, delayedUntil time.Time) (*Row, error) {
	id := uuid.NewString()
	query := fmt.Sprintf(`INSERT INTO %s (id, message, status, delayed_until, attempt_count, optimistic_version)
		VALUES (?, ?, 'PENDING', ?, 0, 0)`, r.table)
	if _, err := r.db.ExecContext(ctx, query, id, message, delayedUntil); err != nil {
		return nil, fmt.Errorf("insert outbox row: %w", err)
	}
	return &Row{ID: id, Message: message, Status: StatusPending, DelayedUntil: delayedUntil}, nil
}

func (r *MySQLRepository) FindAndLockReadyToProcess(ctx context.Context, limit, maxAttempts int) ([]*Row, error) {
	query := fmt.Sprintf(`SELECT id, message, status, delayed_until, attempt_count, last_error, optimistic_version
		FROM %s
		WHERE status = 'PENDING' AND delayed_until <= UTC_TIMESTAMP() AND attempt_count < ?
		ORDER BY delayed_until ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED`, r.table)

	rows, err := r.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("find ready outbox rows: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		var row Row
		var lastErr sql.NullString
		if err := rows.Scan(&row.ID, &row.Message, &row.Status, &row.DelayedUntil, &row.AttemptCount, &lastErr, &row.OptimisticVersion); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		row.LastError = lastErr.String
		out = append(out, &row)
	}
	return out, rows.Err()
}

func (r *MySQLRepository) MarkSent(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = 'SENT', optimistic_version = optimistic_version + 1 WHERE id = ?`, r.table)
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *MySQLRepository) MarkRetry(ctx context.Context, id string, nextDelay time.Time, lastErr string, maxAttempts int) error {
	query := fmt.Sprintf(`UPDATE %s SET
			attempt_count = attempt_count + 1,
			last_error = ?,
			delayed_until = ?,
			optimistic_version = optimistic_version + 1,
			status = CASE WHEN attempt_count + 1 >= ? THEN 'FAILED' ELSE status END
		WHERE id = ?`, r.table)
	_, err := r.db.ExecContext(ctx, query, lastErr, nextDelay, maxAttempts, id)
	return err
}

func (r *MySQLRepository) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE status = 'SENT' AND delayed_until < ?`, r.table)
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
