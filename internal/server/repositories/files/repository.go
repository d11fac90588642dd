package files

import (
	"context"

	"github.com/dmitrijs2005/devsync/internal/server/models"
)

// Repository is the durable file registry.
type Repository interface {
	Create(ctx context.Context, file *models.File) error
	GetByID(ctx context.Context, id string) (*models.File, error)
	ListByOwner(ctx context.Context, userID string) ([]*models.File, error)
	UpdateSecret(ctx context.Context, id string, salt, hash []byte) error
	UpdateContentHash(ctx context.Context, id string, sha256Hex string) error
	Delete(ctx context.Context, id string) error
}
