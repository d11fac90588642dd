package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/dbx"
	"github.com/dmitrijs2005/devsync/internal/server/models"
)

// PostgresRepository implements the file registry over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const fileColumns = `id, name, storage_key, user_id, secret_salt, secret_hash, content_type, content_sha256, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	f := &models.File{}
	if err := s.Scan(&f.ID, &f.Name, &f.StorageKey, &f.UserID, &f.SecretSalt, &f.SecretHash,
		&f.ContentType, &f.ContentSHA256, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Protected = f.HasSecret()
	return f, nil
}

// Create inserts a new record. CreatedAt/UpdatedAt are assigned by the database
// and written back into file.
func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (id, name, storage_key, user_id, secret_salt, secret_hash, content_type, content_sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		file.ID, file.Name, file.StorageKey, file.UserID, file.SecretSalt, file.SecretHash,
		file.ContentType, file.ContentSHA256).Scan(&file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	file.Protected = file.HasSecret()
	return nil
}

// GetByID returns the record or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

// ListByOwner returns the user's files, newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, userID string) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	result := make([]*models.File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateSecret replaces the secret hash; nil salt and hash make the file public.
func (r *PostgresRepository) UpdateSecret(ctx context.Context, id string, salt, hash []byte) error {
	query := `UPDATE files SET secret_salt = $2, secret_hash = $3, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, "update secret", query, id, salt, hash)
}

// UpdateContentHash records the digest of the content last written to the blob store.
func (r *PostgresRepository) UpdateContentHash(ctx context.Context, id string, sha256Hex string) error {
	query := `UPDATE files SET content_sha256 = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, "update content hash", query, id, sha256Hex)
}

// Delete removes the record.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM files WHERE id = $1`
	return r.execOne(ctx, "delete file", query, id)
}

func (r *PostgresRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
