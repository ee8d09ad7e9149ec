package signaling

import "fmt"

// Event is the closed set of notifications an engine emits.
type Event interface {
	event()
}

// FailureKind enumerates media negotiation failures. They are all handled
// the same way by the controller.
type FailureKind int

const (
	FailureSetRemoteDescription FailureKind = iota
	FailureCreateOffer
	FailureCreateAnswer
	FailureSetLocalDescription
	FailureUserMedia
)

func (k FailureKind) String() string {
	switch k {
	case FailureSetRemoteDescription:
		return "SetRemoteDescriptionFailed"
	case FailureCreateOffer:
		return "CreateOfferFailed"
	case FailureCreateAnswer:
		return "CreateAnswerFailed"
	case FailureSetLocalDescription:
		return "SetLocalDescriptionFailed"
	case FailureUserMedia:
		return "UserMediaFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// FailureKinds lists every FailureKind.
var FailureKinds = []FailureKind{
	FailureSetRemoteDescription,
	FailureCreateOffer,
	FailureCreateAnswer,
	FailureSetLocalDescription,
	FailureUserMedia,
}

// Registered is emitted when the registrar accepted the binding.
type Registered struct{}

// Unregistered is emitted when the binding was removed.
type Unregistered struct{}

// RegistrationFailed is emitted when a REGISTER got a final error.
type RegistrationFailed struct {
	Err error
}

// SessionCreated is emitted for every new session, local or remote.
type SessionCreated struct {
	Session    Session
	Originator Originator
}

// MediaAttached is emitted when the media pipe of a session delivers an
// inbound stream.
type MediaAttached struct {
	Session Session
	Stream  Stream
}

// MediaFailed is emitted when the media pipe could not be negotiated.
type MediaFailed struct {
	Session Session
	Kind    FailureKind
	Err     error
}

// Progress carries a provisional response.
type Progress struct {
	Session    Session
	StatusCode int
}

// Accepted is emitted when a final 2xx was sent or received.
type Accepted struct {
	Session Session
}

// Confirmed is emitted when the ACK completed the dialog.
type Confirmed struct {
	Session Session
}

// Ended is emitted when an established session was terminated.
type Ended struct {
	Session    Session
	Originator Originator
	Cause      string
}

// CallFailed is emitted when a session ended before it was established.
type CallFailed struct {
	Session    Session
	StatusCode int
	Reason     string
}

// InfoReceived carries a mid-call INFO.
type InfoReceived struct {
	Session     Session
	Originator  Originator
	ContentType string
	Body        string
}

func (Registered) event()         {}
func (Unregistered) event()       {}
func (RegistrationFailed) event() {}
func (SessionCreated) event()     {}
func (MediaAttached) event()      {}
func (MediaFailed) event()        {}
func (Progress) event()           {}
func (Accepted) event()           {}
func (Confirmed) event()          {}
func (Ended) event()              {}
func (CallFailed) event()         {}
func (InfoReceived) event()       {}
