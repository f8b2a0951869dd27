package connection

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NamanBalaji/segfetch/internal/logger"
)

const maxCleanupInterval = 30 * time.Second

// Pool keeps idle keep-alive connections per scheme and host:port for reuse
type Pool struct {
	available    map[string][]Connection
	inUse        map[string][]Connection
	lastActivity map[Connection]time.Time
	stats        PoolStats

	maxIdlePerHost int
	maxIdleTime    time.Duration

	mu sync.Mutex

	cleanupDone   chan struct{}
	cleanupCancel chan struct{}
	closeOnce     sync.Once
}

// PoolStats contains statistics about the connection pool
type PoolStats struct {
	TotalConnections   int
	ActiveConnections  int
	IdleConnections    int
	ConnectionsCreated int64
	ConnectionsReused  int64
	ConnectionsReset   int64
	MaxIdleConnections int
}

// NewPool creates a new connection pool
func NewPool(maxIdlePerHost int, maxIdleTime time.Duration) *Pool {
	logger.Debugf("Creating new connection pool: maxIdlePerHost=%d, maxIdleTime=%v",
		maxIdlePerHost, maxIdleTime)

	pool := &Pool{
		available:      make(map[string][]Connection),
		inUse:          make(map[string][]Connection),
		lastActivity:   make(map[Connection]time.Time),
		maxIdlePerHost: maxIdlePerHost,
		maxIdleTime:    maxIdleTime,
		cleanupDone:    make(chan struct{}),
		cleanupCancel:  make(chan struct{}),
		stats: PoolStats{
			MaxIdleConnections: maxIdlePerHost,
		},
	}

	go pool.cleanup(cleanupInterval(maxIdleTime))

	return pool
}

// Key returns the pool key of hostname:port. Plain and TLS connections to the
// same address never share a key.
func Key(hostname string, port int, secure bool) string {
	scheme := "http://"
	if secure {
		scheme = "https://"
	}

	return scheme + net.JoinHostPort(hostname, strconv.Itoa(port))
}

// Get retrieves an idle connection to hostname:port if one is available.
// A connection whose transport went away is reconnected before it is handed out.
// When no connection is found it returns nil; the caller is expected to create
// one and register it with Register.
func (p *Pool) Get(ctx context.Context, hostname string, port int, secure bool) (Connection, error) {
	key := Key(hostname, port, secure)

	p.mu.Lock()
	defer p.mu.Unlock()

	connections := p.available[key]
	if len(connections) == 0 {
		logger.Debugf("No idle connections for %s", key)
		return nil, nil
	}

	lastIdx := len(connections) - 1
	conn := connections[lastIdx]

	p.available[key] = connections[:lastIdx]
	p.inUse[key] = append(p.inUse[key], conn)

	atomic.AddInt64(&p.stats.ConnectionsReused, 1)

	if !conn.IsAlive() {
		logger.Debugf("Idle connection to %s is not alive, reconnecting", key)

		if err := conn.Connect(ctx, hostname, port); err != nil {
			logger.Errorf("Failed to reconnect idle connection to %s: %v", key, err)
			_ = conn.Disconnect()

			p.inUse[key] = remove(p.inUse[key], conn)
			delete(p.lastActivity, conn)
			p.updateStats()

			return nil, fmt.Errorf("connection reset failed: %w", err)
		}

		atomic.AddInt64(&p.stats.ConnectionsReset, 1)
	}

	p.lastActivity[conn] = time.Now()
	p.updateStats()

	return conn, nil
}

// Register records a newly created connection as in use.
// This must be called for connections not obtained from Get.
func (p *Pool) Register(conn Connection) {
	if conn == nil {
		logger.Warnf("Attempted to register nil connection")
		return
	}

	key := Key(conn.Hostname(), conn.Port(), conn.Secure())

	p.mu.Lock()
	defer p.mu.Unlock()

	p.inUse[key] = append(p.inUse[key], conn)
	p.lastActivity[conn] = time.Now()

	atomic.AddInt64(&p.stats.ConnectionsCreated, 1)
	p.updateStats()

	logger.Debugf("Registered connection to %s", key)
}

// Release returns a connection to the pool. Its chunk is released first, so an
// idle connection never refers to a chunk. Dead connections and connections
// beyond the per-host idle limit are disconnected.
func (p *Pool) Release(conn Connection) {
	if conn == nil {
		logger.Warnf("Attempted to release nil connection")
		return
	}

	conn.ReleaseChunk()
	key := Key(conn.Hostname(), conn.Port(), conn.Secure())

	p.mu.Lock()
	defer p.mu.Unlock()

	idx := indexOf(p.inUse[key], conn)
	if idx < 0 {
		logger.Warnf("Connection to %s not found in active list", key)
		return
	}

	p.inUse[key] = append(p.inUse[key][:idx], p.inUse[key][idx+1:]...)

	if conn.IsAlive() && len(p.available[key]) < p.maxIdlePerHost {
		p.available[key] = append(p.available[key], conn)
		p.lastActivity[conn] = time.Now()
	} else {
		logger.Debugf("Connection to %s is dead or pool is full, disconnecting", key)
		_ = conn.Disconnect()
		delete(p.lastActivity, conn)
	}

	p.updateStats()
}

// CloseAll disconnects every connection in the pool and stops the cleanup loop
func (p *Pool) CloseAll() {
	p.closeOnce.Do(func() {
		close(p.cleanupCancel)
		<-p.cleanupDone
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	closed := 0
	for _, connections := range p.available {
		for _, conn := range connections {
			_ = conn.Disconnect()
			closed++
		}
	}

	for _, connections := range p.inUse {
		for _, conn := range connections {
			_ = conn.Disconnect()
			closed++
		}
	}

	p.available = make(map[string][]Connection)
	p.inUse = make(map[string][]Connection)
	p.lastActivity = make(map[Connection]time.Time)

	p.updateStats()
	logger.Infof("Closed %d pooled connections", closed)
}

// Stats returns the current pool statistics
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.updateStats()

	return PoolStats{
		TotalConnections:   p.stats.TotalConnections,
		ActiveConnections:  p.stats.ActiveConnections,
		IdleConnections:    p.stats.IdleConnections,
		ConnectionsCreated: atomic.LoadInt64(&p.stats.ConnectionsCreated),
		ConnectionsReused:  atomic.LoadInt64(&p.stats.ConnectionsReused),
		ConnectionsReset:   atomic.LoadInt64(&p.stats.ConnectionsReset),
		MaxIdleConnections: p.stats.MaxIdleConnections,
	}
}

func (p *Pool) cleanup(interval time.Duration) {
	defer close(p.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.removeIdleConnections()
		case <-p.cleanupCancel:
			return
		}
	}
}

// removeIdleConnections disconnects connections idle for longer than maxIdleTime
func (p *Pool) removeIdleConnections() {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0

	for key, connections := range p.available {
		var remaining []Connection

		for _, conn := range connections {
			lastActive, ok := p.lastActivity[conn]
			if !ok {
				remaining = append(remaining, conn)
				p.lastActivity[conn] = now
				continue
			}

			if now.Sub(lastActive) > p.maxIdleTime {
				_ = conn.Disconnect()
				delete(p.lastActivity, conn)
				removed++
				continue
			}

			remaining = append(remaining, conn)
		}

		if len(remaining) > 0 {
			p.available[key] = remaining
		} else {
			delete(p.available, key)
		}
	}

	p.updateStats()

	if removed > 0 {
		logger.Debugf("Idle connection cleanup removed %d connections, %d idle left",
			removed, p.stats.IdleConnections)
	}
}

func (p *Pool) updateStats() {
	idle := 0
	for _, connections := range p.available {
		idle += len(connections)
	}

	active := 0
	for _, connections := range p.inUse {
		active += len(connections)
	}

	p.stats.IdleConnections = idle
	p.stats.ActiveConnections = active
	p.stats.TotalConnections = idle + active
}

func cleanupInterval(maxIdleTime time.Duration) time.Duration {
	interval := maxIdleTime / 2
	if interval <= 0 || interval > maxCleanupInterval {
		return maxCleanupInterval
	}

	return interval
}

func indexOf(connections []Connection, target Connection) int {
	for i, conn := range connections {
		if conn == target {
			return i
		}
	}

	return -1
}

func remove(connections []Connection, target Connection) []Connection {
	if idx := indexOf(connections, target); idx >= 0 {
		return append(connections[:idx], connections[idx+1:]...)
	}

	return connections
}
