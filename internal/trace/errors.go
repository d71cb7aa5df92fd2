package trace

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrNotFound is returned when a requested trace, event, prompt version or
// pricing entry does not exist. Callers decide whether a miss is fatal.
var ErrNotFound = errors.New("trace store record not found")

// ErrInvalidParent is returned when an event names a parent that does not
// exist or belongs to a different trace. The per-trace forest invariant is
// enforced at write time.
var ErrInvalidParent = errors.New("parent event missing or in a different trace")

// Error class constants for storage write failure classification.
const (
	WriteErrorClassConnection = "connection"
	WriteErrorClassTimeout    = "timeout"
	WriteErrorClassContention = "contention"
	WriteErrorClassConstraint = "constraint"
	WriteErrorClassUnknown    = "unknown"
)

// ClassifyWriteError maps a storage write error to one of the defined
// error classes so operators can alert on failure categories rather than
// opaque Go type names.
func ClassifyWriteError(err error) string {
	if err == nil {
		return WriteErrorClassUnknown
	}

	// Timeout checks come first: a net.Error can be both.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WriteErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WriteErrorClassTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return WriteErrorClassConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return WriteErrorClassConnection
	}

	// String matching catches driver errors whose type information was
	// lost through wrapping.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "no such host"):
		return WriteErrorClassConnection
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return WriteErrorClassTimeout
	case strings.Contains(msg, "sqlite_busy"),
		strings.Contains(msg, "database is locked"):
		return WriteErrorClassContention
	case strings.Contains(msg, "violates foreign key constraint"),
		strings.Contains(msg, "violates unique constraint"),
		strings.Contains(msg, "violates check constraint"),
		strings.Contains(msg, "unique constraint failed"),
		strings.Contains(msg, "foreign key constraint failed"),
		strings.Contains(msg, "duplicate key"):
		return WriteErrorClassConstraint
	}

	return WriteErrorClassUnknown
}
