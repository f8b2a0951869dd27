package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/NamanBalaji/segfetch/internal/logger"
)

const (
	defaultConnectTimeout = 10 * time.Second
	keepAlivePeriod       = 30 * time.Second
)

var (
	ErrNotOpen     = errors.New("stream is not open")
	ErrInvalidPort = errors.New("invalid port")
)

// Stream is the byte oriented endpoint a connection talks HTTP over.
// A Stream can be reopened after Close; Open on an open stream closes it first.
type Stream interface {
	Open(ctx context.Context, hostname string, port int) error
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// TCPStream implements Stream over TCP with optional TLS.
// Close may be called from another goroutine to abort a blocked Read.
type TCPStream struct {
	mu   sync.Mutex
	conn net.Conn

	dialer       *net.Dialer
	tlsConfig    *tls.Config
	readTimeout  time.Duration
	writeTimeout time.Duration
}

type Option func(*TCPStream)

// WithTLS wraps every opened connection in a TLS client session.
// ServerName defaults to the hostname passed to Open.
func WithTLS(cfg *tls.Config) Option {
	return func(s *TCPStream) {
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		s.tlsConfig = cfg
	}
}

func WithConnectTimeout(d time.Duration) Option {
	return func(s *TCPStream) {
		s.dialer.Timeout = d
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(s *TCPStream) {
		s.readTimeout = d
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *TCPStream) {
		s.writeTimeout = d
	}
}

func NewTCPStream(opts ...Option) *TCPStream {
	s := &TCPStream{
		dialer: &net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: keepAlivePeriod,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *TCPStream) Open(ctx context.Context, hostname string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	if err := s.Close(); err != nil {
		logger.Warnf("Failed to close previous stream to %s: %v", hostname, err)
	}

	addr := net.JoinHostPort(hostname, strconv.Itoa(port))
	logger.Debugf("Opening stream to %s (tls=%v)", addr, s.tlsConfig != nil)

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	if s.tlsConfig != nil {
		cfg := s.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = hostname
		}

		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("tls handshake with %s: %w", addr, err)
		}

		conn = tlsConn
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	return nil
}

func (s *TCPStream) Write(p []byte) (int, error) {
	conn := s.current()
	if conn == nil {
		return 0, ErrNotOpen
	}

	if s.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return 0, err
		}
	}

	return conn.Write(p)
}

func (s *TCPStream) Read(p []byte) (int, error) {
	conn := s.current()
	if conn == nil {
		return 0, ErrNotOpen
	}

	if s.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return 0, err
		}
	}

	return conn.Read(p)
}

// Close releases the underlying socket. It is idempotent.
func (s *TCPStream) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	return conn.Close()
}

// IsTLS reports whether opened connections are wrapped in TLS.
func (s *TCPStream) IsTLS() bool {
	return s.tlsConfig != nil
}

// IsOpen reports whether a socket is currently held.
func (s *TCPStream) IsOpen() bool {
	return s.current() != nil
}

func (s *TCPStream) current() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn
}
