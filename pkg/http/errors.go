package http

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/NamanBalaji/segfetch/internal/errors"
)

var (
	ErrNotConnected        = errors.New("connection is not connected")
	ErrNoQuery             = errors.New("no successful query on this connection")
	ErrMalformedResponse   = errors.New("malformed HTTP response")
	ErrChunkedUnsupported  = errors.New("chunked transfer encoding is not supported")
	ErrInvalidContentRange = errors.New("invalid Content-Range header")
	ErrBodyPending         = errors.New("previous response body of unknown length is still pending")
	ErrRangesNotSupported  = errors.New("byte ranges not supported by server")

	ErrTimeout        = errors.New("operation timed out")
	ErrNetworkProblem = errors.New("network-related error")
	ErrPeerClosed     = errors.New("connection closed by peer")

	ErrServerProblem    = errors.New("server error (5xx)")
	ErrTooManyRequests  = errors.New("too many requests (429)")
	ErrResourceNotFound = errors.New("resource not found (404)")
	ErrAccessDenied     = errors.New("access denied (403)")
	ErrAuthentication   = errors.New("authentication required (401)")
	ErrGone             = errors.New("resource gone (410)")
	ErrClientRequest    = errors.New("client error (4xx)")
	ErrUnexpectedStatus = errors.New("unexpected status")

	ErrUnknown       = errors.New("unknown error")
	ErrUnexpectedEOF = errors.New("unexpected EOF")
)

// ClassifyHTTPError converts an HTTP status code into an appropriate error.
func ClassifyHTTPError(statusCode int) error {
	switch statusCode {
	case http.StatusNotFound:
		return ErrResourceNotFound
	case http.StatusForbidden:
		return ErrAccessDenied
	case http.StatusUnauthorized:
		return ErrAuthentication
	case http.StatusGone:
		return ErrGone
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangesNotSupported
	case http.StatusTooManyRequests:
		return ErrTooManyRequests
	default:
		switch {
		case statusCode >= http.StatusInternalServerError:
			return ErrServerProblem
		case statusCode >= http.StatusBadRequest:
			return ErrClientRequest
		case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
			return nil
		default:
			return ErrUnexpectedStatus
		}
	}
}

// ClassifyError categorizes a transport error into a sentinel error.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrUnexpectedEOF) {
		return ErrUnexpectedEOF
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, net.ErrClosed) {
		return ErrPeerClosed
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}

		return ErrNetworkProblem
	}

	return ErrUnknown
}

// withCause pairs the classified sentinel with the raw error so both match errors.Is.
// An EOF reaching it is premature and must not read as the clean end of a body,
// so it is kept only as text behind io.ErrUnexpectedEOF.
func withCause(err error) error {
	if errors.Is(err, io.EOF) {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		} else {
			err = fmt.Errorf("%w: %v", io.ErrUnexpectedEOF, err)
		}
	}

	sentinel := ClassifyError(err)
	if sentinel == nil || errors.Is(err, sentinel) {
		return err
	}

	return fmt.Errorf("%w: %w", sentinel, err)
}
