// Package services contains server-side business logic. FileService is the
// file registry: it keeps the durable records and their blobs consistent and
// answers reads through the access gate.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/cryptox"
	"github.com/dmitrijs2005/devsync/internal/logging"
	"github.com/dmitrijs2005/devsync/internal/server/access"
	"github.com/dmitrijs2005/devsync/internal/server/blobstore"
	"github.com/dmitrijs2005/devsync/internal/server/models"
	"github.com/dmitrijs2005/devsync/internal/server/repositories/files"
	"github.com/dmitrijs2005/devsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/devsync/internal/server/session"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Sessions is the part of the session registry the file registry drives.
type Sessions interface {
	Close(fileID string)
	LiveText(fileID string) (string, bool)
}

// CreateFileInput describes a file created from a language template.
type CreateFileInput struct {
	UserID   string
	FileName string
	Language string
	Password string
}

// UploadFileInput describes a raw uploaded file.
type UploadFileInput struct {
	UserID      string
	Password    string
	FileName    string
	ContentType string
	Body        []byte
}

type FileService struct {
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	gate        *access.Gate
	reconciler  *session.Reconciler
	sessions    Sessions
	logger      logging.Logger

	now       func() time.Time
	entropyMu sync.Mutex
	entropy   io.Reader
}

func NewFileService(m repomanager.RepositoryManager, blobs blobstore.Store, gate *access.Gate,
	reconciler *session.Reconciler, sessions Sessions, logger logging.Logger) *FileService {
	return &FileService{
		repomanager: m,
		blobs:       blobs,
		gate:        gate,
		reconciler:  reconciler,
		sessions:    sessions,
		logger:      logger.With("module", "files"),
		now:         time.Now,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
}

// NewStorageKey returns a unique, time-ordered blob key ending in name.
func (s *FileService) NewStorageKey(name string) string {
	s.entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(s.now()), s.entropy)
	s.entropyMu.Unlock()
	return id.String() + "-" + strings.ReplaceAll(name, "/", "_")
}

// Create writes the template blob for a new file and then registers it.
func (s *FileService) Create(ctx context.Context, in CreateFileInput) (*models.File, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.FileName = strings.TrimSpace(in.FileName)
	in.Language = strings.TrimSpace(in.Language)
	if in.UserID == "" || in.FileName == "" || in.Language == "" {
		return nil, fmt.Errorf("%w: userId, fileName and language are required", common.ErrorValidation)
	}

	tpl := TemplateFor(in.Language)
	name := in.FileName + "." + tpl.Extension
	return s.store(ctx, in.UserID, name, in.Password, common.DefaultContentType, []byte(tpl.Content))
}

// Upload registers an uploaded file under its original name.
func (s *FileService) Upload(ctx context.Context, in UploadFileInput) (*models.File, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", common.ErrorValidation)
	}
	if in.FileName == "" {
		return nil, fmt.Errorf("%w: file is required", common.ErrorValidation)
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.store(ctx, in.UserID, in.FileName, in.Password, contentType, in.Body)
}

// store puts the blob first so a record never points at a missing object.
func (s *FileService) store(ctx context.Context, userID, name, password, contentType string, body []byte) (*models.File, error) {
	f := &models.File{
		ID:            uuid.NewString(),
		Name:          name,
		StorageKey:    s.NewStorageKey(name),
		UserID:        userID,
		ContentType:   contentType,
		ContentSHA256: session.ContentHash(body),
	}
	f.SecretSalt, f.SecretHash = cryptox.HashSecret(password)

	if err := s.blobs.Put(ctx, f.StorageKey, body, contentType); err != nil {
		return nil, fmt.Errorf("%w: put blob: %w", common.ErrorStorage, err)
	}
	if err := s.repomanager.Files().Create(ctx, f); err != nil {
		if delErr := s.blobs.Delete(ctx, f.StorageKey); delErr != nil {
			s.logger.Warn(ctx, "orphaned blob after failed create", "key", f.StorageKey, "error", delErr)
		}
		return nil, fmt.Errorf("%w: create record: %w", common.ErrorStorage, err)
	}

	s.logger.Info(ctx, "file created", "file_id", f.ID, "key", f.StorageKey, "protected", f.Protected)
	s.fillURL(ctx, f)
	return f, nil
}

// ListByOwner returns the owner's files, newest first. An empty owner id
// yields an empty list.
func (s *FileService) ListByOwner(ctx context.Context, userID string) ([]*models.File, error) {
	if userID == "" {
		return []*models.File{}, nil
	}
	list, err := s.repomanager.Files().ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorStorage, err)
	}
	for _, f := range list {
		s.fillURL(ctx, f)
	}
	return list, nil
}

// RequestAccess runs the access gate and returns the record with its URL.
func (s *FileService) RequestAccess(ctx context.Context, id, password string) (*models.File, error) {
	f, err := s.gate.RequestAccess(ctx, id, password)
	if err != nil {
		return nil, err
	}
	s.fillURL(ctx, f)
	return f, nil
}

// UpdateSecret replaces the shared secret. Only the owner may do this; an
// empty password makes the file public.
func (s *FileService) UpdateSecret(ctx context.Context, id, userID, password string) (*models.File, error) {
	var f *models.File
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, repo files.Repository) error {
		var err error
		f, err = repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if userID == "" || f.UserID != userID {
			return fmt.Errorf("%w: only the owner may change the password", common.ErrorAccessDenied)
		}

		salt, hash := cryptox.HashSecret(password)
		if err := repo.UpdateSecret(ctx, id, salt, hash); err != nil {
			return err
		}
		f.SecretSalt, f.SecretHash = salt, hash
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrorAccessDenied) {
			return nil, err
		}
		return nil, classify(err)
	}
	f.Protected = f.HasSecret()
	s.fillURL(ctx, f)
	return f, nil
}

// SaveContent writes content to the file's blob. Saving unchanged content
// reports changed=false and performs no write.
func (s *FileService) SaveContent(ctx context.Context, id, content string) (bool, error) {
	changed, err := s.reconciler.Save(ctx, id, content)
	if err != nil {
		return false, err
	}
	s.logger.Info(ctx, "content saved", "file_id", id, "changed", changed)
	return changed, nil
}

// Content returns the text of a file through the access gate. A live
// session's document takes precedence over the stored blob.
func (s *FileService) Content(ctx context.Context, id, password string) (string, error) {
	f, err := s.gate.RequestAccess(ctx, id, password)
	if err != nil {
		return "", err
	}
	if text, ok := s.sessions.LiveText(id); ok {
		return text, nil
	}
	b, err := s.blobs.Get(ctx, f.StorageKey)
	if err != nil {
		return "", classify(err)
	}
	return string(b), nil
}

// Delete removes the blob, then the record, then ends any live session.
// A blob that is already gone does not block the delete. Saves of the same
// file wait until both are gone and then fail with NotFound.
func (s *FileService) Delete(ctx context.Context, id string) error {
	repo := s.repomanager.Files()
	err := s.reconciler.Locked(id, func() error {
		f, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.blobs.Delete(ctx, f.StorageKey); err != nil && !errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("delete blob: %w", err)
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		return classify(err)
	}

	s.sessions.Close(id)
	s.logger.Info(ctx, "file deleted", "file_id", id)
	return nil
}

func (s *FileService) fillURL(ctx context.Context, f *models.File) {
	u, err := s.blobs.URL(ctx, f.StorageKey)
	if err != nil {
		s.logger.Warn(ctx, "cannot resolve file url", "file_id", f.ID, "error", err)
		return
	}
	f.URL = u
}

func classify(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrorNotFound
	}
	return fmt.Errorf("%w: %w", common.ErrorStorage, err)
}
