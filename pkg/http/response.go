package http

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

type response struct {
	proto         string
	statusCode    int
	reason        string
	header        textproto.MIMEHeader
	contentLength int64
	chunked       bool
	closing       bool
}

// readResponse parses a status line and header block. Only the headers that
// drive body framing are interpreted.
func readResponse(r *bufio.Reader) (*response, error) {
	tp := textproto.NewReader(r)

	line, err := tp.ReadLine()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/1.") {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformedResponse, line)
	}

	codeStr, reason, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil || len(codeStr) != 3 {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformedResponse, codeStr)
	}

	header, err := tp.ReadMIMEHeader()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	resp := &response{
		proto:         proto,
		statusCode:    code,
		reason:        reason,
		header:        header,
		contentLength: -1,
	}

	if cl := header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: Content-Length %q", ErrMalformedResponse, cl)
		}
		resp.contentLength = n
	}

	if code == http.StatusNoContent || code == http.StatusNotModified || code/100 == 1 {
		resp.contentLength = 0
	}

	resp.chunked = strings.Contains(strings.ToLower(header.Get("Transfer-Encoding")), "chunked")

	connHeader := strings.ToLower(header.Get("Connection"))
	resp.closing = strings.Contains(connHeader, "close") ||
		(proto == "HTTP/1.0" && !strings.Contains(connHeader, "keep-alive"))

	return resp, nil
}

// contentRange parses "bytes start-end/total". total is -1 when given as "*".
func contentRange(v string) (start, end, total int64, err error) {
	byteRange, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}

	rng, size, ok := strings.Cut(byteRange, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}

	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}

	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}

	if end, err = strconv.ParseInt(last, 10, 64); err != nil || end < start {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}

	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
		}
	}

	return start, end, total, nil
}
