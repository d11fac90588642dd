package files

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/server/models"
)

// MemoryRepository keeps records in process memory. It backs the "memory"
// database mode used for local development.
type MemoryRepository struct {
	mu    sync.RWMutex
	files map[string]*models.File
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{files: make(map[string]*models.File), now: time.Now}
}

func (r *MemoryRepository) Create(ctx context.Context, file *models.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.files {
		if f.ID == file.ID || f.StorageKey == file.StorageKey {
			return common.ErrorValidation
		}
	}
	now := r.now().UTC()
	file.CreatedAt, file.UpdatedAt = now, now
	file.Protected = file.HasSecret()
	r.files[file.ID] = clone(file)
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(f), nil
}

func (r *MemoryRepository) ListByOwner(ctx context.Context, userID string) ([]*models.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.File, 0)
	for _, f := range r.files {
		if f.UserID == userID {
			result = append(result, clone(f))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].StorageKey > result[j].StorageKey
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) UpdateSecret(ctx context.Context, id string, salt, hash []byte) error {
	return r.update(id, func(f *models.File) {
		f.SecretSalt, f.SecretHash = salt, hash
		f.Protected = f.HasSecret()
	})
}

func (r *MemoryRepository) UpdateContentHash(ctx context.Context, id string, sha256Hex string) error {
	return r.update(id, func(f *models.File) { f.ContentSHA256 = sha256Hex })
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.files, id)
	return nil
}

func (r *MemoryRepository) update(id string, fn func(f *models.File)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(f)
	f.UpdatedAt = r.now().UTC()
	return nil
}

func clone(f *models.File) *models.File {
	c := *f
	c.SecretSalt = append([]byte(nil), f.SecretSalt...)
	c.SecretHash = append([]byte(nil), f.SecretHash...)
	if len(c.SecretHash) == 0 {
		c.SecretSalt, c.SecretHash = nil, nil
	}
	return &c
}
