package segment

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/NamanBalaji/segfetch/internal/errors"
)

var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// target is a segment URL split into what a connection needs.
type target struct {
	raw      string
	hostname string
	port     int
	path     string
	secure   bool
}

func parseTarget(rawURL string) (target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return target{}, fmt.Errorf("invalid segment URL %q: %w", rawURL, err)
	}

	t := target{
		raw:      rawURL,
		hostname: u.Hostname(),
		path:     u.RequestURI(),
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
		t.port = 80
	case "https":
		t.port = 443
		t.secure = true
	default:
		return target{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if t.hostname == "" {
		return target{}, fmt.Errorf("invalid segment URL %q: missing host", rawURL)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return target{}, fmt.Errorf("invalid segment URL %q: bad port %q", rawURL, p)
		}
		t.port = port
	}

	return t, nil
}

// fileName is the name the segment is stored under in the output directory.
func (t target) fileName(fallback string) string {
	u, err := url.Parse(t.raw)
	if err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" && name != "" {
			return name
		}
	}

	return fallback + ".seg"
}
