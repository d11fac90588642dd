// Package models defines server-side data models persisted in the database.
package models

import "time"

// File is the registry record for a shared text file. The content itself
// lives in the blob store under StorageKey.
type File struct {
	ID string `json:"id"`
	// Name is the display name including the extension ("main.py").
	Name string `json:"name"`
	// StorageKey is the blob store key; unique and never changed after create.
	StorageKey string `json:"key"`
	UserID     string `json:"userId"`

	// SecretSalt and SecretHash hold the Argon2id hash of the shared secret.
	// Both are empty for public files.
	SecretSalt []byte `json:"-"`
	SecretHash []byte `json:"-"`
	// Protected mirrors len(SecretHash) > 0 for API consumers.
	Protected bool `json:"protected"`

	ContentType string `json:"contentType"`
	// ContentSHA256 is the hex digest of the last flushed content.
	ContentSHA256 string `json:"-"`

	// URL is resolved at read time (public base or presigned GET).
	URL string `json:"url"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasSecret reports whether the file is gated by a shared secret.
func (f *File) HasSecret() bool {
	return len(f.SecretHash) > 0
}
