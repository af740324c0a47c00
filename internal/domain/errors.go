package domain

import "errors"

var (
	// ErrNotReady means the session is not Ready; callers should not retry immediately.
	ErrNotReady = errors.New("session not ready")
	// ErrTransportFailure means a send was attempted and failed; retryable.
	ErrTransportFailure = errors.New("transport failure")
	// ErrSessionCorrupted means the transport reported broken internal state.
	ErrSessionCorrupted = errors.New("session corrupted")
	// ErrStoreFailure means the persistence layer failed.
	ErrStoreFailure = errors.New("store failure")
	ErrRateLimited  = errors.New("rate limited")

	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArguments   = errors.New("bad arguments")
	ErrNotFound       = errors.New("not found")
)

// UsageError is a bad-arguments error whose text is shown to the user as is.
type UsageError struct {
	Text string
}

func (e *UsageError) Error() string { return e.Text }

// Is makes errors.Is(err, ErrBadArguments) match.
func (e *UsageError) Is(target error) bool { return target == ErrBadArguments }

// Usage returns a UsageError with the given text.
func Usage(text string) error { return &UsageError{Text: text} }
