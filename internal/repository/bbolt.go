package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/NamanBalaji/segfetch/internal/chunk"
)

const (
	chunksBucket   = "chunks"
	metadataBucket = "metadata"
	schemaVersion  = 1
)

var (
	// ErrChunkNotFound is returned when no progress is stored for a chunk
	ErrChunkNotFound = errors.New("chunk not found")
	ErrNilChunk      = errors.New("cannot save nil chunk")
	ErrEmptyID       = errors.New("chunk ID cannot be empty")
)

var _ Repository = (*BboltRepository)(nil)

// BboltRepository implements Repository on a bbolt file
type BboltRepository struct {
	db *bbolt.DB
}

// NewBboltRepository creates a new bbolt repository
func NewBboltRepository(dbPath string) (*BboltRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	options := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bbolt.Open(dbPath, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &BboltRepository{
		db: db,
	}

	if err := repo.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// initialize sets up buckets and schema
func (r *BboltRepository) initialize() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(chunksBucket))
		if err != nil {
			return fmt.Errorf("failed to create chunks bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		err = meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion)))
		if err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		return nil
	})
}

// Save persists the progress of a chunk
func (r *BboltRepository) Save(c *chunk.Chunk) error {
	if c == nil {
		return ErrNilChunk
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk: %w", err)
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(chunksBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", chunksBucket)
		}

		if err := bucket.Put([]byte(c.ID.String()), data); err != nil {
			return fmt.Errorf("failed to save chunk: %w", err)
		}

		return nil
	})
}

// Find retrieves the stored progress of a chunk by ID
func (r *BboltRepository) Find(id uuid.UUID) (*chunk.Chunk, error) {
	if id == uuid.Nil {
		return nil, ErrEmptyID
	}

	var data []byte
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(chunksBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", chunksBucket)
		}

		v := bucket.Get([]byte(id.String()))
		if v == nil {
			return ErrChunkNotFound
		}

		// bbolt values are only valid inside the transaction
		data = append([]byte(nil), v...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	c := &chunk.Chunk{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chunk: %w", err)
	}

	return c, nil
}

// FindAll retrieves every stored chunk
func (r *BboltRepository) FindAll() ([]*chunk.Chunk, error) {
	var chunks []*chunk.Chunk

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(chunksBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", chunksBucket)
		}

		return bucket.ForEach(func(_, v []byte) error {
			c := &chunk.Chunk{}
			if err := json.Unmarshal(v, c); err != nil {
				return fmt.Errorf("failed to unmarshal chunk: %w", err)
			}

			chunks = append(chunks, c)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return chunks, nil
}

// Delete removes the stored progress of a chunk
func (r *BboltRepository) Delete(id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrEmptyID
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(chunksBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", chunksBucket)
		}

		if bucket.Get([]byte(id.String())) == nil {
			return ErrChunkNotFound
		}

		return bucket.Delete([]byte(id.String()))
	})
}

// Close closes the database
func (r *BboltRepository) Close() error {
	return r.db.Close()
}
