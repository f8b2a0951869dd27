package repository

import (
	"github.com/google/uuid"

	"github.com/NamanBalaji/segfetch/internal/chunk"
)

// Repository stores chunk progress so an interrupted fetch can resume.
type Repository interface {
	Save(c *chunk.Chunk) error
	Find(id uuid.UUID) (*chunk.Chunk, error)
	FindAll() ([]*chunk.Chunk, error)
	Delete(id uuid.UUID) error
	Close() error
}
