package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeMalformedFrame       = "malformed_frame"
	ErrCodeUnknownSender        = "unknown_sender"
	ErrCodeUnknownChannel       = "unknown_channel"
	ErrCodeStoreUnavailable     = "store_unavailable"
	ErrCodeGroupFrameIncomplete = "group_frame_incomplete"
	ErrCodeMemberUnreachable    = "member_unreachable"
	ErrCodeRateLimited          = "rate_limited"
)

var (
	// ErrMemberUnreachable is returned by Session.Send when a frame cannot be
	// queued for the connection.
	ErrMemberUnreachable = errors.New("member unreachable")
	// ErrWrongChannel is returned when a session joins a channel it was not created for.
	ErrWrongChannel = errors.New("session belongs to another channel")
	// ErrNotActive is returned when frames arrive before history replay finished or after close.
	ErrNotActive = errors.New("session is not active")
	// ErrServerShutdown is the kick reason used when the hub stops.
	ErrServerShutdown = errors.New("server shutting down")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the connection must be closed.
func (e *CoreError) Fatal() bool {
	return e.Code == ErrCodeMalformedFrame
}

func coreError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}

// IsCode reports whether err is a CoreError with the given code.
func IsCode(err error, code string) bool {
	var ce *CoreError
	return errors.As(err, &ce) && ce.Code == code
}
