// Package storage archives uploaded import files on disk
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown file ids
var ErrNotFound = errors.New("file not found")

// FileInfo contains metadata about a stored file
type FileInfo struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Path        string    `json:"path"` // relative to the owner directory
	CreatedAt   time.Time `json:"created_at"`
}

// Storage defines the file archive operations. Files are grouped by owner,
// which is the import session that received them.
type Storage interface {
	// Upload stores a file and returns its metadata
	Upload(ctx context.Context, ownerID uuid.UUID, filename string, contentType string, r io.Reader) (*FileInfo, error)

	// Download retrieves a file by its ID
	Download(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (io.ReadCloser, *FileInfo, error)

	// Delete removes a file by its ID
	Delete(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) error

	// List returns all files for an owner, oldest first
	List(ctx context.Context, ownerID uuid.UUID) ([]*FileInfo, error)

	// PurgeOlderThan deletes every file created before cutoff
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
