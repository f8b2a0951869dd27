package segment

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NamanBalaji/segfetch/internal/chunk"
	"github.com/NamanBalaji/segfetch/internal/config"
	"github.com/NamanBalaji/segfetch/internal/connection"
	"github.com/NamanBalaji/segfetch/internal/errors"
	"github.com/NamanBalaji/segfetch/internal/filesystem"
	"github.com/NamanBalaji/segfetch/internal/logger"
	"github.com/NamanBalaji/segfetch/internal/progress"
	"github.com/NamanBalaji/segfetch/internal/repository"
	"github.com/NamanBalaji/segfetch/internal/status"
	httpmod "github.com/NamanBalaji/segfetch/pkg/http"
	"github.com/NamanBalaji/segfetch/pkg/transport"
)

const (
	checkpointInterval = time.Second
	defaultBufferSize  = 32 * 1024
)

// StreamFactory returns a fresh transport, TLS wrapped when secure is set.
type StreamFactory func(secure bool) transport.Stream

// ProgressFunc receives progress snapshots of a running fetch.
type ProgressFunc func(rawURL string, p progress.Progress)

// Result describes the outcome of fetching one segment.
type Result struct {
	URL         string
	File        string
	Chunk       *chunk.Chunk
	Transferred int64
	Skipped     bool
	Err         error
}

// Fetcher downloads media segments over pooled persistent connections.
// Progress is checkpointed to the repository, so a later run resumes
// each segment with a Range request from its stored offset.
type Fetcher struct {
	cfg        *config.Config
	pool       *connection.Pool
	ownsPool   bool
	repo       repository.Repository
	fs         filesystem.FileSystem
	newStream  StreamFactory
	onProgress ProgressFunc
}

type Option func(*Fetcher)

func WithPool(pool *connection.Pool) Option {
	return func(f *Fetcher) {
		f.pool = pool
	}
}

// WithRepository enables resume across runs.
func WithRepository(repo repository.Repository) Option {
	return func(f *Fetcher) {
		f.repo = repo
	}
}

func WithFileSystem(fs filesystem.FileSystem) Option {
	return func(f *Fetcher) {
		f.fs = fs
	}
}

func WithStreamFactory(factory StreamFactory) Option {
	return func(f *Fetcher) {
		f.newStream = factory
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(f *Fetcher) {
		f.onProgress = fn
	}
}

// New creates a fetcher. Without WithPool it owns a pool sized from cfg.
func New(cfg *config.Config, opts ...Option) *Fetcher {
	if cfg == nil {
		defaults := config.DefaultConfig()
		cfg = &defaults
	}

	f := &Fetcher{
		cfg: cfg,
		fs:  filesystem.NewOSFileSystem(),
	}
	f.newStream = f.tcpStream

	for _, opt := range opts {
		opt(f)
	}

	if f.pool == nil {
		f.pool = connection.NewPool(cfg.Http.MaxIdlePerHost, cfg.Http.MaxIdleTime)
		f.ownsPool = true
	}

	return f
}

// Close disconnects pooled connections if the fetcher owns the pool.
func (f *Fetcher) Close() {
	if f.ownsPool {
		f.pool.CloseAll()
	}
}

// FetchAll fetches every URL into the download directory. The first failed
// segment cancels the rest; the results of all segments are returned.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]Result, error) {
	results := make([]Result, len(urls))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(f.cfg.MaxConcurrentFetches, 1))
	sem := make(chan struct{}, max(f.cfg.Http.Connections, 1))

	for i, rawURL := range urls {
		g.Go(func() error {
			select {
			case <-groupCtx.Done():
				results[i] = Result{URL: rawURL, Err: groupCtx.Err()}
				return groupCtx.Err()
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			res, err := f.FetchToFile(groupCtx, rawURL)
			results[i] = res
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Errorf("Segment %s failed: %v", rawURL, err)
				}
				return err
			}

			return nil
		})
	}

	err := g.Wait()

	return results, err
}

// FetchToFile fetches rawURL into the download directory, resuming from the
// stored chunk progress when the output file still holds those bytes.
func (f *Fetcher) FetchToFile(ctx context.Context, rawURL string) (Result, error) {
	res := Result{URL: rawURL}

	t, err := parseTarget(rawURL)
	if err != nil {
		res.Err = err
		return res, err
	}

	c := f.loadChunk(rawURL, t.path)
	res.Chunk = c
	res.File = filepath.Join(f.cfg.Http.DownloadDir, t.fileName(c.ID.String()))

	size, err := f.fs.Size(res.File)
	if err != nil {
		res.Err = errors.NewIOError(err, res.File)
		return res, res.Err
	}

	if c.GetOffset() > size {
		logger.Warnf("Stored offset %d of %s is past the file size %d, resuming from the file", c.GetOffset(), rawURL, size)
		c.Rewind()
		c.Advance(size)
	}

	if c.IsComplete() && size == c.GetLength() {
		logger.Infof("Segment %s already complete, skipping", rawURL)
		c.SetStatus(status.Completed)
		f.checkpoint(c)
		res.Skipped = true
		return res, nil
	}

	file, err := f.fs.OpenAt(res.File, c.GetOffset())
	if err != nil {
		res.Err = errors.NewIOError(err, res.File)
		return res, res.Err
	}
	defer file.Close()

	res.Transferred, err = f.fetch(ctx, t, c, file)
	res.Err = err

	return res, err
}

// Fetch streams rawURL into w from the offset of c. A nil chunk fetches the
// whole segment.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, c *chunk.Chunk, w io.Writer) (int64, error) {
	t, err := parseTarget(rawURL)
	if err != nil {
		return 0, err
	}

	if c == nil {
		c = chunk.NewForURL(rawURL, t.path)
	}

	return f.fetch(ctx, t, c, w)
}

func (f *Fetcher) fetch(ctx context.Context, t target, c *chunk.Chunk, w io.Writer) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}

	conn, err := f.acquire(ctx, t, c)
	if err != nil {
		f.finish(c, err)
		return 0, err
	}
	defer f.pool.Release(conn)

	c.SetStatus(status.Active)
	start := time.Now()
	lastCheckpoint := start

	// A stale query is recovered by the first Read.
	if err := conn.Query(ctx, t.path); err != nil && !errors.IsRetryable(err) {
		f.finish(c, err)
		return 0, err
	}

	var transferred int64
	bufSize := f.cfg.Http.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	buf := make([]byte, bufSize)

	for {
		n, err := conn.Read(ctx, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// The chunk already counts these bytes, a resume has to fetch them again.
				c.Advance(-int64(n))
				werr = errors.NewIOError(werr, t.raw)
				f.finish(c, werr)
				return transferred, werr
			}

			transferred += int64(n)
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			if errors.IsRetryable(err) && ctx.Err() == nil {
				c.IncRetryCount()
				logger.Debugf("Read of %s failed, connection will retry: %v", t.raw, err)
				continue
			}

			f.finish(c, err)
			return transferred, err
		}

		if time.Since(lastCheckpoint) >= checkpointInterval {
			lastCheckpoint = time.Now()
			f.checkpoint(c)
			f.report(t.raw, c, transferred, start)
		}
	}

	if c.GetLength() == 0 {
		c.SetLength(c.GetOffset())
	}

	f.finish(c, nil)
	f.report(t.raw, c, transferred, start)

	logger.Infof("Fetched %s: %d bytes in %v", t.raw, transferred, time.Since(start).Round(time.Millisecond))

	return transferred, nil
}

// acquire returns a pooled connection to t bound to c, or a new registered one.
func (f *Fetcher) acquire(ctx context.Context, t target, c *chunk.Chunk) (connection.Connection, error) {
	conn, err := f.pool.Get(ctx, t.hostname, t.port, t.secure)
	if err != nil {
		return nil, err
	}

	if conn != nil {
		conn.SetChunk(c)
		return conn, nil
	}

	conn = httpmod.NewPersistent(f.newStream(t.secure), c,
		httpmod.WithUserAgent(f.cfg.Http.UserAgent),
		httpmod.WithBufferSize(f.cfg.Http.BufferSize),
		httpmod.WithRetryBound(f.cfg.Http.MaxRetries),
	)

	if err := conn.Connect(ctx, t.hostname, t.port); err != nil {
		return nil, err
	}

	f.pool.Register(conn)

	return conn, nil
}

func (f *Fetcher) loadChunk(rawURL, path string) *chunk.Chunk {
	if f.repo != nil {
		stored, err := f.repo.Find(chunk.IDFor(rawURL))
		switch {
		case err == nil:
			logger.Debugf("Resuming %s from offset %d", rawURL, stored.GetOffset())
			return stored
		case !errors.Is(err, repository.ErrChunkNotFound):
			logger.Warnf("Failed to load progress of %s, starting over: %v", rawURL, err)
		}
	}

	return chunk.NewForURL(rawURL, path)
}

func (f *Fetcher) finish(c *chunk.Chunk, err error) {
	switch {
	case err == nil:
		c.SetStatus(status.Completed)
	case errors.Is(err, context.Canceled):
		c.SetStatus(status.Cancelled)
	default:
		c.SetStatus(status.Failed)
	}

	f.checkpoint(c)
}

func (f *Fetcher) checkpoint(c *chunk.Chunk) {
	if f.repo == nil {
		return
	}

	if err := f.repo.Save(c); err != nil {
		logger.Warnf("Failed to save progress of chunk %s: %v", c.ID, err)
	}
}

func (f *Fetcher) report(rawURL string, c *chunk.Chunk, transferred int64, start time.Time) {
	if f.onProgress == nil {
		return
	}

	f.onProgress(rawURL, progress.NewSnapshot(c.GetLength(), c.GetOffset(), transferred, time.Since(start)))
}

func (f *Fetcher) tcpStream(secure bool) transport.Stream {
	opts := []transport.Option{
		transport.WithConnectTimeout(f.cfg.Http.ConnectTimeout),
		transport.WithReadTimeout(f.cfg.Http.ReadTimeout),
		transport.WithWriteTimeout(f.cfg.Http.ReadTimeout),
	}

	if secure {
		opts = append(opts, transport.WithTLS(nil))
	}

	return transport.NewTCPStream(opts...)
}
