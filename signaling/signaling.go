// Package signaling describes the boundary between the call controller and
// the engine that speaks SIP and negotiates media.
package signaling

import (
	"context"
	"time"

	"github.com/pion/rtp"
)

// Originator tells which side produced a session or an in-call message.
type Originator int

const (
	OriginatorLocal Originator = iota
	OriginatorRemote
)

func (o Originator) String() string {
	if o == OriginatorRemote {
		return "remote"
	}
	return "local"
}

// Identity is the remote party of a session.
type Identity struct {
	URI         string
	DisplayName string
}

// MediaConstraints selects which media kinds a session negotiates.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// AudioOnly is the only constraint the controller ever requests.
var AudioOnly = MediaConstraints{Audio: true, Video: false}

// CallOptions are passed with an outbound call request.
type CallOptions struct {
	Media        MediaConstraints
	ExtraHeaders []string
}

// InboundStats is one snapshot of the inbound RTP counters of a session.
type InboundStats struct {
	PacketsReceived int64
	PacketsLost     int64
	Timestamp       time.Time
}

// Stream is an inbound audio flow of a session.
type Stream interface {
	ID() string
	MimeType() string
	ClockRate() uint32
	Channels() uint16
	ReadRTP() (*rtp.Packet, error)
}

// Session is one call owned by the engine. The controller only references it.
type Session interface {
	ID() string
	Originator() Originator
	RemoteIdentity() Identity

	Answer(ctx context.Context, media MediaConstraints) error
	Terminate() error
	Mute() error
	Unmute() error
	Hold() error
	Unhold() error
	SendDTMF(digit string) error
	SendInfo(contentType, body string) error

	// Stats may block until the engine has collected the report.
	Stats(ctx context.Context) (InboundStats, error)
}

// Handler receives every engine event. It must not block for long.
type Handler func(Event)

// UA is the signaling engine as seen by the controller.
type UA interface {
	Start(ctx context.Context, h Handler) error
	Stop() error
	// Call returns as soon as the session exists; progress arrives as events.
	Call(ctx context.Context, target string, opts CallOptions) (Session, error)
}
