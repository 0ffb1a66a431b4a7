package definition

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists workflow definition source text, keyed by
// (name, version) — the backing store a Cache Loader reads through on
// a miss.
type Repository interface {
	Get(ctx context.Context, name, version string) (string, error)
	Put(ctx context.Context, name, version, source string) error
}

// Load adapts a Repository into the Cache's plain Loader func shape.
func (r RepositoryLoader) Load(name, version string) (string, error) {
	return r.Repo.Get(r.Ctx, name, version)
}

// RepositoryLoader binds a Repository and a fixed context into a
// Loader, since Cache.Get's Loader signature carries no context
// parameter (process-lifetime reads only, §5).
type RepositoryLoader struct {
	Repo Repository
	Ctx  context.Context
}

// PostgresRepository stores definitions in a `workflow_definitions`
// table, grounded on `common/repository`'s plain-SQL-over-pgxpool
// style.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, name, version string) (string, error) {
	var source string
	err := r.pool.QueryRow(ctx,
		`SELECT source FROM workflow_definitions WHERE name = $1 AND version = $2`,
		name, version).Scan(&source)
	if err != nil {
		return "", fmt.Errorf("load definition %s@%s: %w", name, version, err)
	}
	return source, nil
}

func (r *PostgresRepository) Put(ctx context.Context, name, version, source string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO workflow_definitions (name, version, source) VALUES ($1, $2, $3)
		 ON CONFLICT (name, version) DO UPDATE SET source = EXCLUDED.source`,
		name, version, source)
	return err
}

// MySQLRepository is the same table shape over database/sql.
type MySQLRepository struct {
	db *sql.DB
}

func NewMySQLRepository(db *sql.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

func (r *MySQLRepository) Get(ctx context.Context, name, version string) (string, error) {
	var source string
	err := r.db.QueryRowContext(ctx,
		`SELECT source FROM workflow_definitions WHERE name = ? AND version = ?`,
		name, version).Scan(&source)
	if err != nil {
		return "", fmt.Errorf("load definition %s@%s: %w", name, version, err)
	}
	return source, nil
}

func (r *MySQLRepository) Put(ctx context.Context, name, version, source string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workflow_definitions (name, version, source) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE source = VALUES(source)`,
		name, version, source)
	return err
}

// InMemoryRepository backs tests and single-process deployments.
type InMemoryRepository struct {
	defs map[string]string
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{defs: make(map[string]string)}
}

func (r *InMemoryRepository) Get(_ context.Context, name, version string) (string, error) {
	src, ok := r.defs[key(name, version)]
	if !ok {
		return "", fmt.Errorf("no definition for %s@%s", name, version)
	}
	return src, nil
}

func (r *InMemoryRepository) Put(_ context.Context, name, version, source string) error {
	r.defs[key(name, version)] = source
	return nil
}
