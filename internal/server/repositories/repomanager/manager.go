package repomanager

import (
	"context"

	"github.com/dmitrijs2005/devsync/internal/server/repositories/files"
)

// RepositoryManager vends registry repositories and owns schema setup.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Files() files.Repository
	// WithTx runs fn against repositories bound to a single transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, files files.Repository) error) error
}
