package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract `findAndLockReadyToProcess`
// needs: row-level lock + skip-locked semantics so concurrent
// processors never claim the same row (§4.9).
type Repository interface {
	Insert(ctx context.Context, message string, delayedUntil time.Time) (*Row, error)
	// FindAndLockReadyToProcess selects up to limit PENDING rows with
	// delayedUntil <= now and attemptCount < maxAttempts, ordered by
	// delayedUntil ascending, locking each against concurrent claims.
	FindAndLockReadyToProcess(ctx context.Context, limit, maxAttempts int) ([]*Row, error)
	MarkSent(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, nextDelay time.Time, lastErr string, maxAttempts int) error
	// DeleteSentBefore removes SENT rows whose delayedUntil predates
	// cutoff (the cleanup job, §4.9).
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// InMemoryRepository is a single-process Repository for tests and
// small deployments; a per-row mutex plus a `locked` flag stands in for
// SQL's `FOR UPDATE SKIP LOCKED`.
type InMemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*memRow
}

type memRow struct {
	row    Row
	locked bool
}

// NewInMemoryRepository returns an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{rows: make(map[string]*memRow)}
}

func (r *InMemoryRepository) Insert(_ context.Context, message string, delayedUntil time.Time) (*Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := Row{ID: uuid.NewString(), Message: message, Status: StatusPending, DelayedUntil: delayedUntil}
	r.rows[row.ID] = &memRow{row: row}
	cp := row
	return &cp, nil
}

func (r *InMemoryRepository) FindAndLockReadyToProcess(_ context.Context, limit, maxAttempts int) ([]*Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var candidates []*memRow
	for _, mr := range r.rows {
		if mr.locked {
			continue
		}
		if mr.row.Status != StatusPending {
			continue
		}
		if mr.row.DelayedUntil.After(now) {
			continue
		}
		if mr.row.AttemptCount >= maxAttempts {
			continue
		}
		candidates = append(candidates, mr)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].row.DelayedUntil.Before(candidates[j].row.DelayedUntil)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*Row, 0, len(candidates))
	for _, mr := range candidates {
		mr.locked = true
		cp := mr.row
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryRepository) MarkSent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mr, ok := r.rows[id]
	if !ok {
		return nil
	}
	mr.row.Status = StatusSent
	mr.row.OptimisticVersion++
	mr.locked = false
	return nil
}

func (r *InMemoryRepository) MarkRetry(_ context.Context, id string, nextDelay time.Time, lastErr string, maxAttempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mr, ok := r.rows[id]
	if !ok {
		return nil
	}
	mr.row.AttemptCount++
	mr.row.LastError = lastErr
	mr.row.DelayedUntil = nextDelay
	mr.row.OptimisticVersion++
	if mr.row.AttemptCount >= maxAttempts {
		mr.row.Status = StatusFailed
	}
	mr.locked = false
	return nil
}

// All returns a copy of every row regardless of status or lock state,
// for tests that need to assert on a row's terminal disposition without
// racing FindAndLockReadyToProcess's PENDING-only filter.
func (r *InMemoryRepository) All() []*Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Row, 0, len(r.rows))
	for _, mr := range r.rows {
		cp := mr.row
		out = append(out, &cp)
	}
	return out
}

func (r *InMemoryRepository) DeleteSentBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, mr := range r.rows {
		if mr.row.Status == StatusSent && mr.row.DelayedUntil.Before(cutoff) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}
