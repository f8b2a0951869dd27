package connection

import (
	"context"

	"github.com/NamanBalaji/segfetch/internal/chunk"
)

// Connection represents a request/response connection to one host:port
type Connection interface {
	// Connect opens the transport to hostname:port
	Connect(ctx context.Context, hostname string, port int) error
	// Query sends a request for path from the current chunk offset
	Query(ctx context.Context, path string) error
	// Read reads body bytes of the last query into the buffer
	Read(ctx context.Context, p []byte) (int, error)
	// Disconnect closes the transport
	Disconnect() error
	// ReleaseChunk drops the borrowed chunk, the transport stays open
	ReleaseChunk()
	// SetChunk lends a chunk to the connection for the following queries
	SetChunk(c *chunk.Chunk)
	// Hostname returns the stored hostname (for connection pooling)
	Hostname() string
	// Port returns the stored port (for connection pooling)
	Port() int
	// Secure reports whether the transport uses TLS (for connection pooling)
	Secure() bool
	// IsAlive checks if the transport can serve another query
	IsAlive() bool
}
