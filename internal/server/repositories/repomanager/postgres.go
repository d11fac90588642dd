// Package repomanager provides RepositoryManager implementations: PostgreSQL
// (pgx stdlib driver, goose migrations) and an in-process memory variant.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/devsync/internal/dbx"
	"github.com/dmitrijs2005/devsync/internal/server/migrations"
	"github.com/dmitrijs2005/devsync/internal/server/repositories/files"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories.
type PostgresRepositoryManager struct {
	db *sql.DB
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db}
}

// Files returns a files.Repository bound to the connection pool.
func (m *PostgresRepositoryManager) Files() files.Repository {
	return files.NewPostgresRepository(m.db)
}

// WithTx binds a files.Repository to a transaction for the duration of fn.
func (m *PostgresRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, files files.Repository) error) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, filesRepo(tx))
	})
}

func filesRepo(db dbx.DBTX) files.Repository {
	return files.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, m.db, ".")
}

// MemoryRepositoryManager keeps the registry in process memory.
type MemoryRepositoryManager struct {
	files *files.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{files: files.NewMemoryRepository()}
}

func (m *MemoryRepositoryManager) RunMigrations(ctx context.Context) error { return nil }

func (m *MemoryRepositoryManager) Files() files.Repository { return m.files }

// WithTx runs fn directly; the memory repository has no transactions.
func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, files files.Repository) error) error {
	return fn(ctx, m.files)
}
