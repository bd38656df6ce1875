package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (e.g. 429, 5xx,
// network timeout, a momentarily malformed collaborator response).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// BlockedError marks an explicit block or ban signal from a target site
// (WAF challenge page, 403/429 with bot markers). It is never retried
// against the same target; the domain's rate budget should be tightened
// instead.
type BlockedError struct {
	Domain string
	Err    error
}

func (e *BlockedError) Error() string {
	return "blocked by " + e.Domain + ": " + e.Err.Error()
}

func (e *BlockedError) Unwrap() error {
	return e.Err
}

// NewBlockedError wraps an explicit block/ban signal for a domain.
func NewBlockedError(domain string, err error) *BlockedError {
	return &BlockedError{Domain: domain, Err: err}
}

// IsBlocked returns true if the error chain contains a BlockedError, and
// the blocked domain if so.
func IsBlocked(err error) (string, bool) {
	var be *BlockedError
	if errors.As(err, &be) {
		return be.Domain, true
	}
	return "", false
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns
// (network timeouts, connection resets, DNS failures). Blocked errors are
// never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if _, blocked := IsBlocked(err); blocked {
		return false
	}

	// Check for explicit TransientError in chain.
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// Check for network-level transient errors.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection reset / refused / DNS.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
