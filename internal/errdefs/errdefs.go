// Package errdefs defines the error kinds exchanged between the streaming
// core's components. HTTP handlers translate these into status codes; the
// range engine uses the session-scoped kinds to decide failover action.
package errdefs

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidURL means the request path matched neither URL shape.
	ErrInvalidURL = errors.New("invalid url")

	// ErrNotFound means no descriptor could be resolved for the message.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidRange means the Range header was syntactically malformed.
	ErrInvalidRange = errors.New("invalid range header")

	// ErrUnsatisfiableRange means the Range header was well-formed but
	// outside the file's bounds.
	ErrUnsatisfiableRange = errors.New("unsatisfiable range")
)

// NotYetVisibleError reports that a specific session cannot observe a specific
// archived message yet, typically due to upstream propagation delay.
type NotYetVisibleError struct {
	SessionID int
	MessageID int
}

func (e *NotYetVisibleError) Error() string {
	return fmt.Sprintf("session %d cannot see message %d yet", e.SessionID, e.MessageID)
}

// RateLimitedError reports an upstream throttle signal for a session.
type RateLimitedError struct {
	SessionID  int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("session %d rate limited for %s", e.SessionID, e.RetryAfter)
}

// TransportError reports any other upstream failure attributable to a session,
// including deadline expiry.
type TransportError struct {
	SessionID int
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session %d transport error: %v", e.SessionID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorID returns a short opaque hex identifier written both to the log line
// and the 500 response body, so operators can correlate the two without
// leaking internals to the client.
func ErrorID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}
