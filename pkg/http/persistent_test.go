package http_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/segfetch/internal/chunk"
	"github.com/NamanBalaji/segfetch/internal/errors"
	httpmod "github.com/NamanBalaji/segfetch/pkg/http"
)

const segmentBody = "aaaabbbbccccdddd"

// resumingHandler answers the first request with the given items and every
// later request with the rest of segmentBody from the requested offset.
func resumingHandler(first []item, broken int) func(n int, req string) []item {
	return func(n int, req string) []item {
		if n == 1 {
			return first
		}
		off := rangeOffset(req)
		if n <= broken+1 {
			return []item{header206(off, len(segmentBody)), fail()}
		}
		return []item{header206(off, len(segmentBody)), data(segmentBody[off:])}
	}
}

func connectAndQuery(t *testing.T, conn *httpmod.PersistentConnection, path string) {
	t.Helper()
	require.NoError(t, conn.Connect(context.Background(), "example.test", 80))
	require.NoError(t, conn.Query(context.Background(), path))
}

func TestPersistent_EndToEndRecoversFromIdleClose(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(resumingHandler(
		[]item{header200(len(segmentBody)), data("aaaa"), data("bbbb"), data("cccc"), fail()}, 1))
	c := chunk.New("/seg1.ts", 0)
	conn := httpmod.NewPersistent(fs, c)
	connectAndQuery(t, conn, "/seg1.ts")

	var got strings.Builder
	buf := make([]byte, 4)
	for i := 0; i < 3; i++ {
		n, err := conn.Read(ctx, buf)
		require.NoError(t, err)
		got.Write(buf[:n])
	}
	assert.Equal(t, 0, conn.Reconnects())

	// The first reconnect fails as well, the second one serves the rest.
	n, err := conn.Read(ctx, buf)
	require.NoError(t, err)
	got.Write(buf[:n])

	assert.Equal(t, segmentBody, got.String())
	assert.Equal(t, 2, conn.Reconnects())
	assert.Equal(t, 0, conn.Retries())
	assert.Equal(t, 3, fs.openCount())
	assert.Contains(t, fs.requests[1], "Range: bytes=12-\r\n")
	assert.Contains(t, fs.requests[2], "Range: bytes=12-\r\n")
	assert.Equal(t, int64(len(segmentBody)), c.GetOffset())

	n, err = conn.Read(ctx, buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPersistent_RecoversUpToRetryCount(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(resumingHandler([]item{header200(len(segmentBody)), fail()}, httpmod.RetryCount-1))
	conn := httpmod.NewPersistent(fs, chunk.New("/seg1.ts", 0))
	connectAndQuery(t, conn, "/seg1.ts")

	body, err := readAll(t, ctx, conn, 64)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, segmentBody, body)
	assert.Equal(t, httpmod.RetryCount, conn.Reconnects())
	assert.Equal(t, 0, conn.Retries())
}

func TestPersistent_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(func(int, string) []item {
		return []item{header200(len(segmentBody)), fail()}
	})
	conn := httpmod.NewPersistent(fs, chunk.New("/seg1.ts", 0))
	connectAndQuery(t, conn, "/seg1.ts")

	n, err := conn.Read(ctx, make([]byte, 4))
	assert.Equal(t, 0, n)
	require.Error(t, err)
	assert.True(t, errors.IsRetriesExhausted(err))
	assert.False(t, errors.IsRetryable(err))
	assert.ErrorIs(t, err, httpmod.ErrPeerClosed)
	assert.Equal(t, httpmod.StateFailed, conn.State())
	assert.LessOrEqual(t, conn.Retries(), httpmod.RetryCount)
	assert.Equal(t, 1+httpmod.RetryCount, fs.openCount())

	// Failed is terminal: no further network I/O.
	_, err = conn.Read(ctx, make([]byte, 4))
	assert.True(t, errors.IsRetriesExhausted(err))
	assert.True(t, errors.IsRetriesExhausted(conn.Query(ctx, "/seg1.ts")))
	assert.Equal(t, 1+httpmod.RetryCount, fs.openCount())
	assert.False(t, conn.IsAlive())
	assert.Equal(t, err, conn.Err())
}

func TestPersistent_ConnectFailuresCountAsRetries(t *testing.T) {
	ctx := context.Background()
	refused := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	fs := newFakeStream(resumingHandler([]item{header200(len(segmentBody)), data("aaaa"), fail()}, 0))
	fs.openErrs = []error{nil, refused, refused}
	conn := httpmod.NewPersistent(fs, chunk.New("/seg1.ts", 0))
	connectAndQuery(t, conn, "/seg1.ts")

	buf := make([]byte, 16)
	n, err := conn.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "aaaa", string(buf[:n]))

	for i := 1; i <= 2; i++ {
		_, err = conn.Read(ctx, buf)
		require.Error(t, err)
		assert.Equal(t, errors.CategoryConnect, errors.CategoryOf(err))
		assert.True(t, errors.IsRetryable(err))
		assert.Equal(t, i, conn.Retries())
	}

	n, err = conn.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "bbbbccccdddd", string(buf[:n]))
	assert.Equal(t, 0, conn.Retries())
	assert.Contains(t, fs.lastRequest(), "Range: bytes=4-\r\n")
	for _, h := range fs.hosts {
		assert.Equal(t, "example.test:80", h)
	}
}

func TestPersistent_StatusFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(func(int, string) []item {
		return []item{data("HTTP/1.1 404 Not Found\r\nContent-Length: 9\r\n\r\n"), data("not found")}
	})
	conn := httpmod.NewPersistent(fs, chunk.New("/missing.ts", 0))
	require.NoError(t, conn.Connect(ctx, "example.test", 80))

	err := conn.Query(ctx, "/missing.ts")
	require.Error(t, err)
	assert.True(t, errors.IsStatusError(err))
	assert.False(t, conn.QueryOK())
	assert.Equal(t, httpmod.StateConnected, conn.State())

	_, readErr := conn.Read(ctx, make([]byte, 4))
	assert.Equal(t, err, readErr)
	assert.Equal(t, 1, fs.openCount())
	assert.Equal(t, 0, conn.Reconnects())
	assert.Equal(t, 0, conn.Retries())
}

func TestPersistent_QueryFailureDefersRecoveryToRead(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(func(int, string) []item {
		return []item{header200(4), data("abcd")}
	})
	fs.writeErr = fmt.Errorf("write: %w", syscall.EPIPE)
	conn := httpmod.NewPersistent(fs, chunk.New("/a", 0))
	require.NoError(t, conn.Connect(ctx, "example.test", 80))

	err := conn.Query(ctx, "/a")
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, httpmod.StateQueryStale, conn.State())
	assert.Equal(t, 1, fs.openCount())

	body, err := readAll(t, ctx, conn, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "abcd", body)
	assert.Equal(t, 2, fs.openCount())
	assert.Equal(t, 1, fs.closes)
}

func TestPersistent_DisconnectConnectResetsFailed(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(func(int, string) []item {
		return []item{header200(4), fail()}
	})
	conn := httpmod.NewPersistent(fs, chunk.New("/a", 0))
	connectAndQuery(t, conn, "/a")

	_, err := conn.Read(ctx, make([]byte, 4))
	require.True(t, errors.IsRetriesExhausted(err))

	require.NoError(t, conn.Disconnect())
	assert.Equal(t, httpmod.StateDisconnected, conn.State())
	assert.Equal(t, 0, conn.Retries())
	assert.False(t, conn.QueryOK())

	require.NoError(t, conn.Connect(ctx, "example.test", 80))
	assert.Equal(t, httpmod.StateConnected, conn.State())
	assert.Equal(t, 0, conn.Retries())
	assert.False(t, conn.QueryOK())
	assert.NoError(t, conn.Err())

	_, err = conn.Read(ctx, make([]byte, 4))
	assert.ErrorIs(t, err, httpmod.ErrNoQuery)
}

func TestPersistent_ConnectAloneResetsFailed(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(func(int, string) []item {
		return []item{header200(4), fail()}
	})
	conn := httpmod.NewPersistent(fs, chunk.New("/a", 0), httpmod.WithRetryBound(1))
	connectAndQuery(t, conn, "/a")

	_, err := conn.Read(ctx, make([]byte, 4))
	require.True(t, errors.IsRetriesExhausted(err))
	assert.Equal(t, 2, fs.openCount())

	require.NoError(t, conn.Connect(ctx, "example.test", 80))
	assert.Equal(t, 0, conn.Retries())
	assert.NotEqual(t, httpmod.StateFailed, conn.State())
}

func TestPersistent_ZeroRetryBoundBehavesPlain(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(func(int, string) []item {
		return []item{header200(4), fail()}
	})
	conn := httpmod.NewPersistent(fs, chunk.New("/a", 0), httpmod.WithRetryBound(0))
	connectAndQuery(t, conn, "/a")

	_, err := conn.Read(ctx, make([]byte, 4))
	assert.True(t, errors.IsRetriesExhausted(err))
	assert.Equal(t, 1, fs.openCount())
}

func TestPersistent_ReleaseChunkKeepsTransport(t *testing.T) {
	fs := newFakeStream(func(int, string) []item {
		return []item{header200(4), data("abcd")}
	})
	conn := httpmod.NewPersistent(fs, chunk.New("/a", 0))
	connectAndQuery(t, conn, "/a")

	conn.ReleaseChunk()

	assert.Nil(t, conn.Chunk())
	assert.Equal(t, "example.test", conn.Hostname())
	assert.Equal(t, 0, fs.closes)
	assert.True(t, conn.IsAlive())
}

func TestPersistent_ResumesWithoutChunk(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(resumingHandler([]item{header200(len(segmentBody)), data("aaaa"), fail()}, 0))
	conn := httpmod.NewPersistent(fs, nil)
	connectAndQuery(t, conn, "/seg1.ts")

	body, err := readAll(t, ctx, conn, 4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, segmentBody, body)
	assert.Contains(t, fs.lastRequest(), "Range: bytes=4-\r\n")
}

func TestPersistent_ResumesWhenPeerClosesMidBody(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(resumingHandler([]item{header200(len(segmentBody)), data("aaaa")}, 0))
	c := chunk.New("/seg1.ts", 0)
	conn := httpmod.NewPersistent(fs, c)
	connectAndQuery(t, conn, "/seg1.ts")

	body, err := readAll(t, ctx, conn, 4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, segmentBody, body)
	assert.Equal(t, 1, conn.Reconnects())
	assert.Equal(t, 2, fs.openCount())
	assert.Contains(t, fs.lastRequest(), "Range: bytes=4-\r\n")
	assert.Equal(t, int64(len(segmentBody)), c.GetOffset())
}

func TestPersistent_PeerClosingEveryBodyExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(func(n int, req string) []item {
		if n == 1 {
			return []item{header200(len(segmentBody)), data("aaaa")}
		}
		return []item{header206(rangeOffset(req), len(segmentBody))}
	})
	conn := httpmod.NewPersistent(fs, nil)
	connectAndQuery(t, conn, "/seg1.ts")

	body, err := readAll(t, ctx, conn, 4)
	assert.Equal(t, "aaaa", body)
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Equal(t, errors.CategoryRetriesExhausted, errors.CategoryOf(err))
	assert.Equal(t, httpmod.RetryCount, conn.Retries())
}

func TestPersistent_ReusesTransportAcrossChunks(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(func(n int, req string) []item {
		if strings.HasPrefix(req, "GET /a ") {
			return []item{header200(8), data("AAAABBBB")}
		}
		return []item{header200(4), data("CCCC")}
	})
	first := chunk.New("/a", 0)
	conn := httpmod.NewPersistent(fs, first)
	connectAndQuery(t, conn, "/a")

	n, err := conn.Read(ctx, make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	second := chunk.New("/b", 0)
	conn.SetChunk(second)
	require.NoError(t, conn.Query(ctx, "/b"))

	body, err := readAll(t, ctx, conn, 16)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "CCCC", body)
	assert.Equal(t, 1, fs.openCount())
	assert.Equal(t, int64(4), first.GetOffset())
	assert.Equal(t, int64(4), second.GetOffset())
}

func TestPersistent_ReopensWhenPeerCloses(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStream(func(int, string) []item {
		return []item{data("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\n"), data("ok")}
	})
	conn := httpmod.NewPersistent(fs, nil)
	connectAndQuery(t, conn, "/a")

	_, err := readAll(t, ctx, conn, 4)
	require.ErrorIs(t, err, io.EOF)

	require.NoError(t, conn.Query(ctx, "/b"))
	assert.Equal(t, 2, fs.openCount())
	assert.Equal(t, 0, conn.Retries())
	assert.Equal(t, 0, conn.Reconnects())
}

func TestPersistent_ReadBeforeConnect(t *testing.T) {
	conn := httpmod.NewPersistent(newFakeStream(nil), chunk.New("/a", 0))

	assert.ErrorIs(t, conn.Query(context.Background(), "/a"), httpmod.ErrNotConnected)

	_, err := conn.Read(context.Background(), make([]byte, 1))
	assert.ErrorIs(t, err, httpmod.ErrNotConnected)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", httpmod.StateDisconnected.String())
	assert.Equal(t, "query-ok", httpmod.StateQueryOK.String())
	assert.Equal(t, "query-stale", httpmod.StateQueryStale.String())
	assert.Equal(t, "failed", httpmod.StateFailed.String())
	assert.Equal(t, "unknown", httpmod.State(99).String())
}
