// Package access decides whether a caller may read or join a file.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/cryptox"
	"github.com/dmitrijs2005/devsync/internal/server/models"
)

// DeniedError is returned when a protected file is requested with a missing
// or wrong secret.
type DeniedError struct {
	// SecretSupplied distinguishes "prompt for a password" from "wrong password".
	SecretSupplied bool
}

func (e *DeniedError) Error() string {
	if e.SecretSupplied {
		return "access denied: wrong password"
	}
	return "access denied: password required"
}

func (e *DeniedError) Unwrap() error { return common.ErrorAccessDenied }

// FileGetter is the part of the registry the gate reads.
type FileGetter interface {
	GetByID(ctx context.Context, id string) (*models.File, error)
}

type Gate struct {
	files FileGetter
}

func NewGate(files FileGetter) *Gate {
	return &Gate{files: files}
}

// RequestAccess returns the record for fileID if supplied satisfies its
// secret. Nothing is cached: every call reads the registry.
func (g *Gate) RequestAccess(ctx context.Context, fileID, supplied string) (*models.File, error) {
	f, err := g.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("%w: %w", common.ErrorStorage, err)
	}
	if !f.HasSecret() {
		return f, nil
	}
	if supplied == "" {
		return nil, &DeniedError{}
	}
	if !cryptox.VerifySecret(supplied, f.SecretSalt, f.SecretHash) {
		return nil, &DeniedError{SecretSupplied: true}
	}
	return f, nil
}
