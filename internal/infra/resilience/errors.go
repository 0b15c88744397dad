package resilience

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
)

// RetriableCoder is implemented by errors that know their own stable
// classification code, bypassing the syscall/DNS/HTTP heuristics below.
type RetriableCoder interface {
	RetriableCode() string
}

// HTTPStatusCoder is implemented by errors carrying an HTTP status code
// (a chat-transport or sheet-read HTTP client response, typically).
type HTTPStatusCoder interface {
	HTTPStatus() int
}

// Error codes recorded in Stats.ErrorsByType and used to decide whether a
// failure is worth retrying. This is a closed allow-list: a code that isn't
// here is treated as non-retriable, not as an unknown-but-safe-to-retry case.
const (
	CodeConnReset   = "ECONNRESET"
	CodeConnRefused = "ECONNREFUSED"
	CodeTimedOut    = "ETIMEDOUT"
	CodeNotFound    = "ENOTFOUND"
	CodeTempDNSFail = "EAI_AGAIN"
	CodeBrokenPipe  = "EPIPE"
	CodeConnAborted = "ECONNABORTED"
	CodePermanent   = "permanent"
	CodeUnknown     = "unknown"
)

// retriableHTTPStatuses is the closed allow-list of HTTP statuses worth
// retrying: request timeout, rate limiting, and the 5xx codes that indicate
// a transient server condition rather than a request the server will never
// satisfy (501 Not Implemented, 505 HTTP Version Not Supported excluded).
var retriableHTTPStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// classify resolves err to a stable code and a retry verdict. StopRetryer
// still wins outright (a permanent failure is never retried regardless of
// its underlying code); everything else is matched against the allow-list
// of syscall errnos, DNS failures and HTTP statuses below.
func classify(err error) (code string, retriable bool) {
	var stopper StopRetryer
	if errors.As(err, &stopper) && stopper.StopRetry() {
		return CodePermanent, false
	}

	var coder RetriableCoder
	if errors.As(err, &coder) {
		return coder.RetriableCode(), true
	}

	var statusErr HTTPStatusCoder
	if errors.As(err, &statusErr) {
		status := statusErr.HTTPStatus()
		return "http_" + strconv.Itoa(status), retriableHTTPStatuses[status]
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET:
			return CodeConnReset, true
		case syscall.ECONNREFUSED:
			return CodeConnRefused, true
		case syscall.ETIMEDOUT:
			return CodeTimedOut, true
		case syscall.EPIPE:
			return CodeBrokenPipe, true
		case syscall.ECONNABORTED:
			return CodeConnAborted, true
		default:
			return errno.Error(), false
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return CodeNotFound, true
		}
		if dnsErr.IsTemporary {
			return CodeTempDNSFail, true
		}
		return CodeNotFound, false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimedOut, true
	}

	return CodeUnknown, false
}
