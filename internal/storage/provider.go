// Package storage defines the file abstraction over a user's repositories.
package storage

import (
	"context"

	"github.com/lurkhub/lurkhub-app/internal/models"
)

// File is a file read from a repository together with its revision token.
type File struct {
	Repo    string `json:"repo"`
	Path    string `json:"path"`
	Content []byte `json:"-"`
	// SHA is the git blob id of Content. Update and Delete must echo it back.
	SHA string `json:"sha"`
}

// Provider is the interface for file operations within one owner's repositories.
//
// Read returns apperr.ErrNotFound for absent files. Writes whose sha no
// longer matches the stored file fail with apperr.ErrConflict.
type Provider interface {
	Read(ctx context.Context, repo, path string) (*File, error)
	// Create writes a new file and returns its sha. It fails with
	// apperr.ErrConflict when the file already exists.
	Create(ctx context.Context, repo, path string, content []byte, message string) (string, error)
	// Update replaces an existing file whose current sha equals sha.
	Update(ctx context.Context, repo, path string, content []byte, sha, message string) (string, error)
	Delete(ctx context.Context, repo, path, sha, message string) error
}

// Repositories looks up and creates repositories for the authenticated owner.
type Repositories interface {
	// Repository returns apperr.ErrNotFound when owner/name does not exist.
	Repository(ctx context.Context, owner, name string) (*models.Repository, error)
	CreateRepository(ctx context.Context, name, description string, private bool) (*models.Repository, error)
}
