package sipua

import (
	"errors"
	"fmt"

	"whistle/signaling"
)

var (
	// ErrNotStarted is returned by Call before Start.
	ErrNotStarted = errors.New("user agent not started")
	// ErrSessionClosed is returned by commands on a terminated session.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotEstablished is returned by in-dialog commands before the 2xx.
	ErrNotEstablished = errors.New("session not established")
	// ErrNoMedia is returned by Stats while the media pipe is not up.
	ErrNoMedia = errors.New("no media pipe")
	// ErrInvalidDTMF is returned for digits outside 0-9, A-D, * and #.
	ErrInvalidDTMF = errors.New("invalid dtmf digit")
	// ErrAlreadyAnswered is returned by a second Answer.
	ErrAlreadyAnswered = errors.New("session already answered")
)

// negotiationError tags a media pipe failure with its kind.
type negotiationError struct {
	kind signaling.FailureKind
	err  error
}

func (e *negotiationError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *negotiationError) Unwrap() error { return e.err }

func failure(kind signaling.FailureKind, err error) error {
	return &negotiationError{kind: kind, err: err}
}

// failureKind extracts the kind of a media pipe error. Untagged errors
// count as a local media failure.
func failureKind(err error) signaling.FailureKind {
	var ne *negotiationError
	if errors.As(err, &ne) {
		return ne.kind
	}
	return signaling.FailureUserMedia
}
