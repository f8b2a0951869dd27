package http

import (
	"strconv"
	"strings"
)

const (
	DefaultPort      = 80
	DefaultUserAgent = "segfetch/1.0"
)

type requestHeader struct {
	hostname  string
	port      int
	path      string
	userAgent string
	offset    int64
	keepAlive bool
}

// String renders the request line and headers, terminated by an empty line.
func (h requestHeader) String() string {
	path := h.path
	if path == "" {
		path = "/"
	}

	var b strings.Builder

	b.WriteString("GET ")
	b.WriteString(path)
	b.WriteString(" HTTP/1.1\r\n")

	b.WriteString("Host: ")
	b.WriteString(hostHeader(h.hostname, h.port))
	b.WriteString("\r\n")

	if h.userAgent != "" {
		b.WriteString("User-Agent: ")
		b.WriteString(h.userAgent)
		b.WriteString("\r\n")
	}

	b.WriteString("Accept: */*\r\n")

	if h.offset > 0 {
		b.WriteString("Range: bytes=")
		b.WriteString(strconv.FormatInt(h.offset, 10))
		b.WriteString("-\r\n")
	}

	if h.keepAlive {
		b.WriteString("Connection: keep-alive\r\n")
	} else {
		b.WriteString("Connection: close\r\n")
	}

	b.WriteString("\r\n")

	return b.String()
}

func hostHeader(hostname string, port int) string {
	if strings.Contains(hostname, ":") && !strings.HasPrefix(hostname, "[") {
		hostname = "[" + hostname + "]"
	}

	if port == 0 || port == 80 || port == 443 {
		return hostname
	}

	return hostname + ":" + strconv.Itoa(port)
}
