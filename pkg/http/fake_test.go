package http_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"sync"
	"syscall"

	"github.com/NamanBalaji/segfetch/pkg/transport"
)

// item is one Read worth of server output, or a transport error.
type item struct {
	data []byte
	err  error
}

func data(s string) item { return item{data: []byte(s)} }

func fail() item { return item{err: fmt.Errorf("read tcp: %w", syscall.ECONNRESET)} }

func header200(length int) item {
	return data(fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n", length))
}

func header206(offset, total int) item {
	return data(fmt.Sprintf("HTTP/1.1 206 Partial Content\r\nContent-Range: bytes %d-%d/%d\r\nContent-Length: %d\r\n\r\n",
		offset, total-1, total, total-offset))
}

var rangeRe = regexp.MustCompile(`Range: bytes=(\d+)-`)

// rangeOffset extracts the resume offset of a request, 0 when no Range was sent.
func rangeOffset(req string) int {
	m := rangeRe.FindStringSubmatch(req)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// fakeStream scripts a server: every written request is answered by the
// handler, and each Read returns at most one scripted item. An empty queue
// reads as the peer closing the connection.
type fakeStream struct {
	mu sync.Mutex

	opened   bool
	opens    int
	closes   int
	openErrs []error
	writeErr error
	requests []string
	queue    []item
	hosts    []string

	handler func(n int, req string) []item
}

var _ transport.Stream = (*fakeStream)(nil)

func newFakeStream(handler func(n int, req string) []item) *fakeStream {
	return &fakeStream{handler: handler}
}

func (f *fakeStream) Open(_ context.Context, hostname string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens++
	f.hosts = append(f.hosts, net.JoinHostPort(hostname, strconv.Itoa(port)))
	f.queue = nil

	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		if err != nil {
			f.opened = false
			return err
		}
	}

	f.opened = true
	return nil
}

func (f *fakeStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.opened {
		return 0, transport.ErrNotOpen
	}
	if f.writeErr != nil {
		err := f.writeErr
		f.writeErr = nil
		return 0, err
	}

	f.requests = append(f.requests, string(p))
	f.queue = append(f.queue, f.handler(len(f.requests), string(p))...)

	return len(p), nil
}

func (f *fakeStream) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.opened {
		return 0, net.ErrClosed
	}
	if len(f.queue) == 0 {
		return 0, io.EOF
	}

	it := f.queue[0]
	if it.err != nil {
		f.queue = f.queue[1:]
		return 0, it.err
	}

	n := copy(p, it.data)
	if n < len(it.data) {
		f.queue[0].data = it.data[n:]
	} else {
		f.queue = f.queue[1:]
	}

	return n, nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.opened {
		f.closes++
	}
	f.opened = false
	f.queue = nil

	return nil
}

func (f *fakeStream) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeStream) lastRequest() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1]
}
