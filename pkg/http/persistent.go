package http

import (
	"context"
	"fmt"
	"io"

	"github.com/NamanBalaji/segfetch/internal/chunk"
	"github.com/NamanBalaji/segfetch/internal/errors"
	"github.com/NamanBalaji/segfetch/internal/logger"
	"github.com/NamanBalaji/segfetch/pkg/transport"
)

// RetryCount is the number of consecutive reconnects a persistent connection
// attempts before it gives up. The counter is reset by a read that delivers
// data or reaches the end of the body, not by a reconnect that merely
// succeeds, so a peer that accepts connections and then drops every body
// still exhausts the budget.
const RetryCount = 5

// PersistentConnection keeps one keep-alive transport per host:port and
// transparently reconnects and requeries when a read finds it idle-closed.
// The consumed chunk offset is sent as a Range header on every requery, so
// the caller's read cursor survives the reconnect.
//
// A PersistentConnection is not safe for concurrent use.
type PersistentConnection struct {
	*Connection

	queryOk    bool
	retries    int
	reconnects int
	path       string

	queryErr error // status failure of the last query, never retried
	failErr  error // terminal error once the retry bound is reached
	lastErr  error
}

func NewPersistent(stream transport.Stream, c *chunk.Chunk, opts ...Option) *PersistentConnection {
	p := &PersistentConnection{
		Connection: New(stream, c, opts...),
	}
	p.buildHeader = func(path string) string {
		return p.header(path, true)
	}

	return p
}

// Connect opens the transport and starts a fresh retry budget, also after Failed.
func (p *PersistentConnection) Connect(ctx context.Context, hostname string, port int) error {
	p.resetRetryState()

	return p.Connection.Connect(ctx, hostname, port)
}

// Query sends the request. A transport failure marks the query stale and the
// next Read recovers it; a status failure is remembered and returned by Read.
func (p *PersistentConnection) Query(ctx context.Context, path string) error {
	if p.failErr != nil {
		return p.failErr
	}

	p.path = path
	p.queryErr = nil

	if p.closing && p.state != StateDisconnected {
		// The peer announced it closes after the previous response.
		logger.Debugf("Peer of %s closes after each response, reopening before query", p.resource())

		if err := p.reopen(ctx); err != nil {
			p.markStale(err)
			return err
		}
	}

	err := p.Connection.Query(ctx, path)

	return p.afterQuery(err)
}

func (p *PersistentConnection) afterQuery(err error) error {
	switch {
	case err == nil:
		p.queryOk = true
		p.state = StateQueryOK
	case errors.Is(err, ErrNotConnected):
		p.queryOk = false
	case errors.IsRetryable(err):
		p.markStale(err)
	default:
		p.queryOk = false
		p.queryErr = err
	}

	return err
}

// Read reads body bytes. A transport failure marks the query stale; the
// connection is then reopened and the chunk requeried from its consumed
// offset, within the same call while reconnects succeed. Each recovery
// attempt counts against the retry bound until a read succeeds again.
func (p *PersistentConnection) Read(ctx context.Context, buf []byte) (int, error) {
	switch {
	case p.failErr != nil:
		return 0, p.failErr
	case p.queryErr != nil:
		return 0, p.queryErr
	case p.hostname == "", p.state == StateDisconnected && p.lastErr == nil:
		return 0, ErrNotConnected
	case p.path == "":
		return 0, ErrNoQuery
	}

	for {
		if !p.queryOk {
			if err := p.recover(ctx); err != nil {
				return 0, err
			}
		}

		n, err := p.Connection.Read(ctx, buf)
		if err == nil || err == io.EOF {
			p.retries = 0
			return n, err
		}

		if !errors.IsRetryable(err) {
			return n, err
		}

		logger.Debugf("Read from %s failed, marking query stale: %v", p.resource(), err)
		p.markStale(err)
	}
}

// recover performs one reconnect and requery attempt.
func (p *PersistentConnection) recover(ctx context.Context) error {
	path := p.path
	if p.chunk != nil && p.chunk.GetPath() != "" {
		path = p.chunk.GetPath()
	}

	if p.retries >= p.opts.retryBound {
		cause := p.lastErr
		if cause == nil {
			cause = ErrNoQuery
		}

		p.state = StateFailed
		p.queryOk = false
		p.failErr = errors.NewRetriesExhaustedError(cause, p.resource(), p.retries)

		logger.Errorf("Giving up on %s after %d reconnects: %v", p.resource(), p.retries, cause)

		return p.failErr
	}

	p.retries++
	p.reconnects++

	logger.Infof("Reconnecting to %s for %s (attempt %d/%d)", p.resource(), path, p.retries, p.opts.retryBound)

	if err := p.reopen(ctx); err != nil {
		p.markStale(err)
		return err
	}

	if err := p.Connection.query(ctx, path); err != nil {
		return p.afterQuery(err)
	}

	p.queryOk = true
	p.state = StateQueryOK

	return nil
}

// reopen closes the current transport before opening a new one, so there is
// never more than one live transport per connection.
func (p *PersistentConnection) reopen(ctx context.Context) error {
	if err := p.stream.Close(); err != nil {
		logger.Warnf("Failed to close stale transport to %s: %v", p.resource(), err)
	}

	return p.Connection.Connect(ctx, p.hostname, p.port)
}

// Disconnect closes the transport and clears the retry state.
func (p *PersistentConnection) Disconnect() error {
	p.resetRetryState()

	return p.Connection.Disconnect()
}

// Retries returns the current consecutive reconnect counter.
func (p *PersistentConnection) Retries() int {
	return p.retries
}

// Reconnects returns the total reconnect attempts made since construction.
func (p *PersistentConnection) Reconnects() int {
	return p.reconnects
}

func (p *PersistentConnection) QueryOK() bool {
	return p.queryOk
}

// Err returns the error that put the connection into its current failed or
// status-failed state, nil otherwise.
func (p *PersistentConnection) Err() error {
	if p.failErr != nil {
		return p.failErr
	}

	return p.queryErr
}

func (p *PersistentConnection) String() string {
	return fmt.Sprintf("persistent(%s, %s, retries=%d)", p.resource(), p.state, p.retries)
}

func (p *PersistentConnection) markStale(err error) {
	p.queryOk = false
	p.lastErr = err
	if p.state != StateDisconnected {
		p.state = StateQueryStale
	}
}

func (p *PersistentConnection) resetRetryState() {
	p.retries = 0
	p.queryOk = false
	p.queryErr = nil
	p.failErr = nil
	p.lastErr = nil
	p.path = ""
}
