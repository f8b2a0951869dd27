package chunk

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/NamanBalaji/segfetch/internal/status"
)

var (
	ErrEmptyPath      = errors.New("chunk path cannot be empty")
	ErrNegativeOffset = errors.New("chunk offset cannot be negative")
)

// Chunk describes the byte range of a segment that is currently being fetched.
// It is owned by the caller; connections only borrow it while a fetch is in flight
// and advance Offset by the bytes they deliver.
type Chunk struct {
	mu         sync.RWMutex
	ID         uuid.UUID     `json:"id"`
	URL        string        `json:"url,omitempty"`
	Path       string        `json:"path"`
	Offset     int64         `json:"offset"`
	Length     int64         `json:"length"`
	Status     status.Status `json:"status"`
	RetryCount int32         `json:"retryCount"`
}

// New creates a pending chunk for path with a random id.
func New(path string, length int64) *Chunk {
	return &Chunk{
		ID:     uuid.New(),
		Path:   path,
		Length: length,
		Status: status.Pending,
	}
}

// NewForURL creates a pending chunk whose id is derived from rawURL, so the
// same segment maps to the same stored progress across runs.
func NewForURL(rawURL, path string) *Chunk {
	c := New(path, 0)
	c.ID = IDFor(rawURL)
	c.URL = rawURL

	return c
}

// IDFor returns the stable chunk id of rawURL.
func IDFor(rawURL string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL))
}

// Validate checks the fields a connection relies on.
func (c *Chunk) Validate() error {
	if c.GetPath() == "" {
		return ErrEmptyPath
	}

	if c.GetOffset() < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeOffset, c.GetOffset())
	}

	return nil
}

func (c *Chunk) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	type Alias Chunk

	return json.Marshal(&struct {
		*Alias

		Offset     int64 `json:"offset"`
		Length     int64 `json:"length"`
		Status     int32 `json:"status"`
		RetryCount int32 `json:"retryCount"`
	}{
		Offset:     c.GetOffset(),
		Length:     c.GetLength(),
		Status:     c.GetStatus(),
		RetryCount: c.GetRetryCount(),
		Alias:      (*Alias)(c),
	})
}

func (c *Chunk) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.Path
}

func (c *Chunk) GetOffset() int64 {
	return atomic.LoadInt64(&c.Offset)
}

// Advance records n more consumed bytes and returns the new offset.
func (c *Chunk) Advance(n int64) int64 {
	return atomic.AddInt64(&c.Offset, n)
}

// Rewind resets the consumed offset, used when a server ignores a resume request
// and the whole body has to be taken again.
func (c *Chunk) Rewind() {
	atomic.StoreInt64(&c.Offset, 0)
}

func (c *Chunk) GetLength() int64 {
	return atomic.LoadInt64(&c.Length)
}

func (c *Chunk) SetLength(length int64) {
	atomic.StoreInt64(&c.Length, length)
}

// Remaining returns the bytes still expected, or -1 when the length is unknown.
func (c *Chunk) Remaining() int64 {
	length := c.GetLength()
	if length <= 0 {
		return -1
	}

	return max(length-c.GetOffset(), 0)
}

// IsComplete reports whether every expected byte has been consumed.
func (c *Chunk) IsComplete() bool {
	return c.Remaining() == 0
}

// Progress returns the percentage of the chunk consumed so far.
func (c *Chunk) Progress() float64 {
	length := c.GetLength()
	if length <= 0 {
		return 0
	}

	return float64(c.GetOffset()) / float64(length) * 100
}

func (c *Chunk) GetStatus() status.Status {
	return atomic.LoadInt32(&c.Status)
}

func (c *Chunk) SetStatus(s status.Status) {
	atomic.StoreInt32(&c.Status, s)
}

func (c *Chunk) GetRetryCount() int32 {
	return atomic.LoadInt32(&c.RetryCount)
}

func (c *Chunk) IncRetryCount() int32 {
	return atomic.AddInt32(&c.RetryCount, 1)
}
