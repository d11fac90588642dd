package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/logging"
	"github.com/dmitrijs2005/devsync/internal/server/blobstore"
	"github.com/dmitrijs2005/devsync/internal/server/models"
)

// FileRecords is the part of the registry the reconciler needs.
type FileRecords interface {
	GetByID(ctx context.Context, id string) (*models.File, error)
	UpdateContentHash(ctx context.Context, id string, sha256Hex string) error
}

// Reconciler moves document content between sessions and the blob store.
type Reconciler struct {
	blobs  blobstore.Store
	files  FileRecords
	logger logging.Logger

	mu    sync.Mutex
	locks map[string]*fileLock
}

type fileLock struct {
	mu   sync.Mutex
	refs int
}

func NewReconciler(blobs blobstore.Store, files FileRecords, logger logging.Logger) *Reconciler {
	return &Reconciler{
		blobs:  blobs,
		files:  files,
		logger: logger.With("module", "reconciler"),
		locks:  make(map[string]*fileLock),
	}
}

// ContentHash returns the hex SHA-256 of content as stored in the registry.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Seed loads the stored content into a freshly created session. Failures
// are logged and leave the session empty. Content is dropped if the
// document was edited before it arrived.
func (r *Reconciler) Seed(ctx context.Context, s *Session) {
	defer s.markSeeded()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	log := r.logger.With("file_id", s.fileID)

	data, err := r.blobs.Get(ctx, s.file.StorageKey)
	if err != nil {
		log.Warn(ctx, "seed failed, session starts empty", "error", err)
		return
	}
	if !utf8.Valid(data) {
		log.Warn(ctx, "stored content is not UTF-8 text, session starts empty")
		return
	}
	if !s.loadSeed(string(data)) {
		log.Info(ctx, "seed discarded, document already edited")
		return
	}
	log.Debug(ctx, "session seeded", "bytes", len(data))
}

// Flush writes the session document to the blob store. A clean session is
// not written. The session stays dirty if the write fails.
func (r *Reconciler) Flush(ctx context.Context, s *Session) (bool, error) {
	select {
	case <-s.seeded:
	case <-ctx.Done():
		return false, fmt.Errorf("%w: waiting for seed: %w", common.ErrorStorage, ctx.Err())
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if !s.Dirty() {
		return false, nil
	}
	text, version := s.Snapshot()
	changed, err := r.Save(ctx, s.fileID, text)
	if err != nil {
		r.logger.Error(ctx, "flush failed", "file_id", s.fileID, "error", err)
		return false, err
	}
	s.markClean(version)
	r.logger.Info(ctx, "session flushed", "file_id", s.fileID, "changed", changed)
	return changed, nil
}

// Save writes content for fileID unless it matches the stored digest.
// Saves for one file are serialized; the last one wins.
func (r *Reconciler) Save(ctx context.Context, fileID string, content string) (bool, error) {
	unlock := r.lock(fileID)
	defer unlock()

	f, err := r.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, common.ErrorNotFound
		}
		return false, fmt.Errorf("%w: %w", common.ErrorStorage, err)
	}

	body := []byte(content)
	sum := ContentHash(body)
	if sum == f.ContentSHA256 {
		return false, nil
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = common.DefaultContentType
	}
	if err := r.blobs.Put(ctx, f.StorageKey, body, contentType); err != nil {
		return false, fmt.Errorf("%w: %w", common.ErrorStorage, err)
	}
	if err := r.files.UpdateContentHash(ctx, f.ID, sum); err != nil {
		return false, fmt.Errorf("%w: %w", common.ErrorStorage, err)
	}
	return true, nil
}

// Locked runs fn while holding the lock that serializes saves of fileID.
// Callers that remove a file's blob and record use it so that no save
// writes the blob back in between.
func (r *Reconciler) Locked(fileID string, fn func() error) error {
	unlock := r.lock(fileID)
	defer unlock()
	return fn()
}

func (r *Reconciler) lock(fileID string) func() {
	r.mu.Lock()
	l, ok := r.locks[fileID]
	if !ok {
		l = &fileLock{}
		r.locks[fileID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, fileID)
		}
		r.mu.Unlock()
	}
}
