package http

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/NamanBalaji/segfetch/internal/chunk"
	"github.com/NamanBalaji/segfetch/internal/errors"
	"github.com/NamanBalaji/segfetch/internal/logger"
	"github.com/NamanBalaji/segfetch/pkg/transport"
)

const defaultBufferSize = 32 * 1024

type options struct {
	userAgent  string
	bufferSize int
	retryBound int
}

type Option func(*options)

func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}

// WithBufferSize sets the read buffer placed in front of the transport.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithRetryBound overrides RetryCount for a persistent connection.
// A bound of 0 makes every transport failure terminal.
func WithRetryBound(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retryBound = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		userAgent:  DefaultUserAgent,
		bufferSize: defaultBufferSize,
		retryBound: RetryCount,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Connection runs one request/response cycle at a time over an exclusively
// owned transport. It borrows the current chunk to build range requests and
// advances the chunk offset by the body bytes it hands to the caller.
type Connection struct {
	stream   transport.Stream
	chunk    *chunk.Chunk
	hostname string
	port     int
	state    State
	opts     options

	reader     *bufio.Reader
	statusCode int
	remaining  int64 // body bytes left, -1 until the peer closes
	inBody     bool
	closing    bool
	delivered  int64 // body bytes handed out since the last caller query

	buildHeader func(path string) string
}

// New creates a plain connection. It never retries on its own.
func New(stream transport.Stream, c *chunk.Chunk, opts ...Option) *Connection {
	conn := &Connection{
		stream: stream,
		chunk:  c,
		opts:   newOptions(opts),
	}
	conn.buildHeader = func(path string) string {
		return conn.header(path, false)
	}

	return conn
}

// Connect opens the transport to hostname:port. A port <= 0 means DefaultPort.
func (c *Connection) Connect(ctx context.Context, hostname string, port int) error {
	if port <= 0 {
		port = DefaultPort
	}

	c.hostname = hostname
	c.port = port
	c.resetResponse()
	c.reader = nil

	if err := c.stream.Open(ctx, hostname, port); err != nil {
		c.state = StateDisconnected
		if ctx.Err() != nil {
			return errors.NewContextError(ctx.Err(), c.resource())
		}

		logger.Debugf("Connect to %s failed: %v", c.resource(), err)

		return errors.NewConnectError(withCause(err), c.resource())
	}

	c.reader = bufio.NewReaderSize(c.stream, c.opts.bufferSize)
	c.state = StateConnected

	return nil
}

// BuildRequestHeader returns the request header block for path.
func (c *Connection) BuildRequestHeader(path string) string {
	return c.buildHeader(path)
}

func (c *Connection) header(path string, keepAlive bool) string {
	return requestHeader{
		hostname:  c.hostname,
		port:      c.port,
		path:      path,
		userAgent: c.opts.userAgent,
		offset:    c.resumeOffset(),
		keepAlive: keepAlive,
	}.String()
}

// Query sends a GET for path and consumes the response status and headers.
func (c *Connection) Query(ctx context.Context, path string) error {
	if c.chunk == nil {
		c.delivered = 0
	}

	return c.query(ctx, path)
}

func (c *Connection) query(ctx context.Context, path string) error {
	if c.state == StateDisconnected || c.state == StateFailed || c.reader == nil {
		return fmt.Errorf("query %s: %w", path, ErrNotConnected)
	}

	if err := ctx.Err(); err != nil {
		return errors.NewContextError(err, path)
	}

	if err := c.discardBody(); err != nil {
		c.state = StateConnected
		return errors.NewQueryError(err, path)
	}

	c.resetResponse()
	c.state = StateConnected

	offset := c.resumeOffset()
	header := c.buildHeader(path)

	logger.Debugf("Querying %s%s (offset=%d)", c.resource(), path, offset)

	if _, err := io.WriteString(c.stream, header); err != nil {
		return errors.NewQueryError(withCause(err), path)
	}

	resp, err := readResponse(c.reader)
	if err != nil {
		if errors.Is(err, ErrMalformedResponse) {
			return errors.NewProtocolError(err, path)
		}

		return errors.NewQueryError(withCause(err), path)
	}

	c.statusCode = resp.statusCode
	c.remaining = resp.contentLength
	c.inBody = resp.contentLength != 0
	c.closing = resp.closing

	if statusErr := ClassifyHTTPError(resp.statusCode); statusErr != nil {
		logger.Warnf("Query %s%s returned %d %s", c.resource(), path, resp.statusCode, resp.reason)
		return errors.NewStatusError(statusErr, path, resp.statusCode)
	}

	if resp.chunked {
		c.remaining = -1
		c.closing = true
		return errors.NewProtocolError(ErrChunkedUnsupported, path)
	}

	if err := c.alignBody(resp, offset); err != nil {
		return err
	}

	c.state = StateQueryOK

	return nil
}

// alignBody makes sure the body starts at offset and records the chunk length.
func (c *Connection) alignBody(resp *response, offset int64) error {
	switch resp.statusCode {
	case http.StatusPartialContent:
		start, _, total, err := contentRange(resp.header.Get("Content-Range"))
		if err != nil {
			return errors.NewProtocolError(err, c.resource())
		}

		if start != offset {
			return errors.NewProtocolError(
				fmt.Errorf("%w: range starts at %d, want %d", ErrInvalidContentRange, start, offset), c.resource())
		}

		if c.chunk != nil && total > 0 && c.chunk.GetLength() == 0 {
			c.chunk.SetLength(total)
		}
	default:
		if c.chunk != nil && resp.contentLength > 0 && c.chunk.GetLength() == 0 {
			c.chunk.SetLength(resp.contentLength)
		}

		if offset > 0 {
			// Range was ignored, the body starts at byte 0.
			logger.Debugf("Server ignored range for %s, skipping %d bytes", c.resource(), offset)

			if _, err := io.CopyN(io.Discard, c.reader, offset); err != nil {
				return errors.NewQueryError(withCause(err), c.resource())
			}

			if c.remaining > 0 {
				c.remaining -= offset
			}
		}
	}

	return nil
}

// Read reads up to len(p) body bytes. It returns io.EOF at the clean end of
// the body and a transient read error when the transport fails.
func (c *Connection) Read(ctx context.Context, p []byte) (int, error) {
	if c.state != StateQueryOK {
		return 0, ErrNoQuery
	}

	if len(p) == 0 {
		return 0, nil
	}

	if c.remaining == 0 {
		c.inBody = false
		return 0, io.EOF
	}

	if err := ctx.Err(); err != nil {
		return 0, errors.NewContextError(err, c.resource())
	}

	buf := p
	if c.remaining > 0 && int64(len(buf)) > c.remaining {
		buf = buf[:c.remaining]
	}

	n, err := c.reader.Read(buf)
	if n > 0 {
		if c.remaining > 0 {
			c.remaining -= int64(n)
		}

		c.delivered += int64(n)
		if c.chunk != nil {
			c.chunk.Advance(int64(n))
		}

		return n, nil
	}

	if err == nil {
		return 0, nil
	}

	if errors.Is(err, io.EOF) && c.remaining < 0 {
		c.remaining = 0
		c.inBody = false
		c.closing = true

		return 0, io.EOF
	}

	return 0, errors.NewTransientReadError(withCause(err), c.resource())
}

// Disconnect closes the transport. It is idempotent.
func (c *Connection) Disconnect() error {
	c.resetResponse()
	c.reader = nil
	c.state = StateDisconnected

	return c.stream.Close()
}

// ReleaseChunk drops the chunk reference. The transport stays open.
func (c *Connection) ReleaseChunk() {
	c.chunk = nil
}

// SetChunk borrows c for the following queries.
func (c *Connection) SetChunk(ch *chunk.Chunk) {
	c.chunk = ch
	c.delivered = 0
}

func (c *Connection) Chunk() *chunk.Chunk {
	return c.chunk
}

func (c *Connection) Hostname() string {
	return c.hostname
}

func (c *Connection) Port() int {
	return c.port
}

// Secure reports whether the transport speaks TLS.
func (c *Connection) Secure() bool {
	s, ok := c.stream.(interface{ IsTLS() bool })
	return ok && s.IsTLS()
}

func (c *Connection) State() State {
	return c.state
}

// StatusCode returns the status of the last parsed response, 0 if none.
func (c *Connection) StatusCode() int {
	return c.statusCode
}

// IsAlive reports whether the transport is open and usable for another query.
func (c *Connection) IsAlive() bool {
	switch c.state {
	case StateConnected, StateQueryOK:
		return !c.closing
	default:
		return false
	}
}

func (c *Connection) resumeOffset() int64 {
	if c.chunk != nil {
		return c.chunk.GetOffset()
	}

	return c.delivered
}

// discardBody drains what is left of the previous response so the next
// response can be parsed from the same transport.
func (c *Connection) discardBody() error {
	if !c.inBody || c.remaining == 0 {
		return nil
	}

	if c.remaining < 0 {
		return ErrBodyPending
	}

	if _, err := io.CopyN(io.Discard, c.reader, c.remaining); err != nil {
		return withCause(err)
	}

	c.remaining = 0
	c.inBody = false

	return nil
}

func (c *Connection) resetResponse() {
	c.statusCode = 0
	c.remaining = 0
	c.inBody = false
	c.closing = false
}

func (c *Connection) resource() string {
	return net.JoinHostPort(c.hostname, strconv.Itoa(c.port))
}
