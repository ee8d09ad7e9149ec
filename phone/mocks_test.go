package phone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"whistle/signaling"
)

type fakeSession struct {
	id         string
	originator signaling.Originator
	identity   signaling.Identity

	mu        sync.Mutex
	answers   int
	terminate int
	muted     []bool
	held      []bool
	digits    []string
	infos     []InfoMessage
	samples   []signaling.InboundStats
	statsErr  error
	queries   int
	// release, when set, holds each Stats call until a value arrives
	release   chan struct{}
}

func newFakeSession(id string, o signaling.Originator) *fakeSession {
	return &fakeSession{
		id:         id,
		originator: o,
		identity:   signaling.Identity{URI: "sip:" + id + "@example.com", DisplayName: "Caller " + id},
	}
}

func (s *fakeSession) ID() string                         { return s.id }
func (s *fakeSession) Originator() signaling.Originator   { return s.originator }
func (s *fakeSession) RemoteIdentity() signaling.Identity { return s.identity }

func (s *fakeSession) Answer(ctx context.Context, media signaling.MediaConstraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers++
	return nil
}

func (s *fakeSession) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminate++
	return nil
}

func (s *fakeSession) Mute() error   { return s.setMuted(true) }
func (s *fakeSession) Unmute() error { return s.setMuted(false) }
func (s *fakeSession) Hold() error   { return s.setHeld(true) }
func (s *fakeSession) Unhold() error { return s.setHeld(false) }

func (s *fakeSession) setMuted(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = append(s.muted, v)
	return nil
}

func (s *fakeSession) setHeld(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = append(s.held, v)
	return nil
}

func (s *fakeSession) SendDTMF(digit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digits = append(s.digits, digit)
	return nil
}

func (s *fakeSession) SendInfo(contentType, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, InfoMessage{ContentType: contentType, Body: body})
	return nil
}

// Stats pops the queued samples; the last one repeats.
func (s *fakeSession) Stats(ctx context.Context) (signaling.InboundStats, error) {
	s.mu.Lock()
	s.queries++
	release := s.release
	s.mu.Unlock()
	if release != nil {
		<-release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsErr != nil {
		return signaling.InboundStats{}, s.statsErr
	}
	if len(s.samples) == 0 {
		return signaling.InboundStats{}, errors.New("no samples")
	}
	st := s.samples[0]
	if len(s.samples) > 1 {
		s.samples = s.samples[1:]
	}
	return st, nil
}

func (s *fakeSession) queried() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

func (s *fakeSession) terminated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminate
}

type callRequest struct {
	target string
	opts   signaling.CallOptions
}

type fakeUA struct {
	mu      sync.Mutex
	handler signaling.Handler
	calls   []callRequest
	next    []*fakeSession
	callErr error
	stopped int
}

func (u *fakeUA) Start(ctx context.Context, h signaling.Handler) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handler = h
	return nil
}

func (u *fakeUA) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopped++
	return nil
}

func (u *fakeUA) Call(ctx context.Context, target string, opts signaling.CallOptions) (signaling.Session, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, callRequest{target: target, opts: opts})
	if u.callErr != nil {
		return nil, u.callErr
	}
	var s *fakeSession
	if len(u.next) > 0 {
		s, u.next = u.next[0], u.next[1:]
	} else {
		s = newFakeSession(fmt.Sprintf("out-%d", len(u.calls)), signaling.OriginatorLocal)
	}
	return s, nil
}

func (u *fakeUA) emit(ev signaling.Event) {
	u.mu.Lock()
	h := u.handler
	u.mu.Unlock()
	h(ev)
}

func (u *fakeUA) requests() []callRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]callRequest(nil), u.calls...)
}

type recorder struct {
	mu           sync.Mutex
	events       []string
	connectivity []ConnectivityState
	incoming     []signaling.Identity
	infos        []InfoMessage
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Registered()    { r.add("registered") }
func (r *recorder) Unregistered()  { r.add("unregistered") }
func (r *recorder) CallRinging()   { r.add("ringing") }
func (r *recorder) CallConnected() { r.add("connected") }
func (r *recorder) CallFailed()    { r.add("failed") }
func (r *recorder) CallEnded()     { r.add("ended") }

func (r *recorder) IncomingCall(uri, displayName string) {
	r.mu.Lock()
	r.incoming = append(r.incoming, signaling.Identity{URI: uri, DisplayName: displayName})
	r.mu.Unlock()
	r.add("incoming")
}

func (r *recorder) ConnectivityUpdate(state ConnectivityState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectivity = append(r.connectivity, state)
}

func (r *recorder) Info(msg InfoMessage) {
	r.mu.Lock()
	r.infos = append(r.infos, msg)
	r.mu.Unlock()
	r.add("info")
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(ev string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == ev {
			n++
		}
	}
	return n
}

func (r *recorder) states() []ConnectivityState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectivityState(nil), r.connectivity...)
}

type harness struct {
	ctrl   *Controller
	ua     *fakeUA
	rec    *recorder
	cancel context.CancelFunc
	result chan error
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.Domain == "" && cfg.Proxy == "" {
		cfg.Domain = "example.com"
	}
	if cfg.Log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		cfg.Log = logrus.NewEntry(logger)
	}
	h := &harness{ua: &fakeUA{}, rec: &recorder{}, result: make(chan error, 1)}
	h.ctrl = NewController(h.ua, h.rec, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.result <- h.ctrl.Run(ctx) }()
	t.Cleanup(h.shutdown)

	// blocks until the loop is serving
	require.Equal(t, StateIdle, h.ctrl.State())
	return h
}

func (h *harness) shutdown() {
	h.cancel()
	select {
	case <-h.ctrl.done:
	case <-time.After(2 * time.Second):
	}
}

// incoming emits a remote session and waits until the controller saw it.
func (h *harness) incoming(t *testing.T, id string) *fakeSession {
	t.Helper()
	s := newFakeSession(id, signaling.OriginatorRemote)
	h.ua.emit(signaling.SessionCreated{Session: s, Originator: signaling.OriginatorRemote})
	require.Equal(t, StateActive, h.ctrl.State())
	return s
}

// dial places an outbound call and returns the engine session.
func (h *harness) dial(t *testing.T, id string) *fakeSession {
	t.Helper()
	s := newFakeSession(id, signaling.OriginatorLocal)
	h.ua.mu.Lock()
	h.ua.next = append(h.ua.next, s)
	h.ua.mu.Unlock()
	require.True(t, h.ctrl.Dial(id, DialOptions{}))
	return s
}

// sync waits until every event emitted so far has been processed.
func (h *harness) sync() {
	h.ctrl.State()
}

type fakeStream struct {
	mime    string
	packets int
	mu      sync.Mutex
	read    int
}

func (s *fakeStream) ID() string        { return "track-1" }
func (s *fakeStream) MimeType() string  { return s.mime }
func (s *fakeStream) ClockRate() uint32 { return 48000 }
func (s *fakeStream) Channels() uint16  { return 1 }

func (s *fakeStream) ReadRTP() (*rtp.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.read >= s.packets {
		return nil, io.EOF
	}
	s.read++
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: uint16(s.read),
			Timestamp:      uint32(s.read * 960),
			SSRC:           1234,
		},
		Payload: []byte{0xf8, 0xff, 0xfe},
	}, nil
}

func (s *fakeStream) consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read
}
