package sipua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ghettovoice/gosip/sip"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"whistle/signaling"
)

const (
	contentTypeSDP  = "application/sdp"
	contentTypeDTMF = "application/dtmf-relay"
	dtmfDigits      = "0123456789ABCD*#"
)

var errTransactionDone = errors.New("transaction terminated without final response")

// session is one dialog and its media pipe.
type session struct {
	ua         *UA
	id         string
	callID     string
	originator signaling.Originator
	remote     signaling.Identity
	log        *logrus.Entry

	mu           sync.Mutex
	localAddr    *sip.Address
	remoteAddr   *sip.Address
	remoteTarget sip.Uri
	cseq         uint
	inviteReq    sip.Request
	offer        string
	media        *mediaPipe
	answered     bool
	established  bool
	confirmed    bool
	muted        bool
	held         bool
	closed       bool
	cancelInvite context.CancelFunc
}

func (u *UA) newSession(callID string, o signaling.Originator, remote signaling.Identity) *session {
	id := uuid.NewString()
	return &session{
		ua:         u,
		id:         id,
		callID:     callID,
		originator: o,
		remote:     remote,
		log:        u.log.WithField("session", id),
	}
}

func (s *session) ID() string                         { return s.id }
func (s *session) Originator() signaling.Originator   { return s.originator }
func (s *session) RemoteIdentity() signaling.Identity { return s.remote }

// Answer starts media negotiation for an inbound session in the background.
func (s *session) Answer(ctx context.Context, media signaling.MediaConstraints) error {
	if s.originator != signaling.OriginatorRemote {
		return fmt.Errorf("session %s is outbound", s.id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.answered {
		return ErrAlreadyAnswered
	}
	s.answered = true
	go s.accept(ctx, media, s.offer)
	return nil
}

// Terminate ends the session in whatever way its state calls for: BYE once
// established, CANCEL for a pending outbound INVITE, 486 for a ringing
// inbound one.
func (s *session) Terminate() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.closed = true
	established, cancel := s.established, s.cancelInvite
	s.mu.Unlock()

	switch {
	case established:
		s.sendBye()
	case s.originator == signaling.OriginatorLocal:
		if cancel != nil {
			cancel()
		}
	default:
		s.respond(s.inviteReq, 486, "Busy Here")
	}
	s.log.Info("session terminated locally")
	s.release()
	go s.ua.emit(signaling.Ended{Session: s, Originator: signaling.OriginatorLocal, Cause: "Terminated"})
	return nil
}

func (s *session) Mute() error   { return s.setMuted(true) }
func (s *session) Unmute() error { return s.setMuted(false) }

func (s *session) setMuted(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.muted = v
	if s.media != nil {
		s.media.setMuted(v)
	}
	return nil
}

func (s *session) Hold() error   { return s.setHeld(true) }
func (s *session) Unhold() error { return s.setHeld(false) }

// setHeld pauses the local source and re-INVITEs with the matching direction.
func (s *session) setHeld(v bool) error {
	s.mu.Lock()
	if err := s.usable(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.held == v {
		s.mu.Unlock()
		return nil
	}
	s.held = v
	m := s.media
	s.mu.Unlock()

	m.setHeld(v)
	dir := DirectionSendRecv
	if v {
		dir = DirectionSendOnly
	}
	go s.reinvite(dir)
	return nil
}

func (s *session) SendDTMF(digit string) error {
	body, err := dtmfBody(digit)
	if err != nil {
		return err
	}
	return s.SendInfo(contentTypeDTMF, body)
}

func (s *session) SendInfo(contentType, body string) error {
	s.mu.Lock()
	err := s.usable()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	req, _, err := s.request(sip.INFO, contentType, body)
	if err != nil {
		return fmt.Errorf("build INFO: %w", err)
	}
	s.ua.transact(req)
	return nil
}

func (s *session) Stats(ctx context.Context) (signaling.InboundStats, error) {
	if err := ctx.Err(); err != nil {
		return signaling.InboundStats{}, err
	}
	s.mu.Lock()
	m := s.media
	s.mu.Unlock()
	if m == nil {
		return signaling.InboundStats{}, ErrNoMedia
	}
	return m.stats(), nil
}

// usable must be called with mu held.
func (s *session) usable() error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.established || s.media == nil {
		return ErrNotEstablished
	}
	return nil
}

func (s *session) setMedia(m *mediaPipe) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.media = m
	m.setMuted(s.muted)
	return true
}

func (s *session) onTrack(stream signaling.Stream) {
	s.ua.emit(signaling.MediaAttached{Session: s, Stream: stream})
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// finish marks the session closed; it reports false when it already was.
func (s *session) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *session) release() {
	s.ua.forget(s)
	s.mu.Lock()
	m := s.media
	s.mu.Unlock()
	if m != nil {
		m.close()
	}
}

// localTag is the tag this side put in the dialog, nil before it has one.
func (s *session) localTag() sip.MaybeString {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localAddr == nil || s.localAddr.Params == nil {
		return nil
	}
	tag, ok := s.localAddr.Params.Get("tag")
	if !ok {
		return nil
	}
	return tag
}

func (s *session) fail(code int, reason string) {
	if !s.finish() {
		return
	}
	s.log.Infof("session failed: %d %s", code, reason)
	s.release()
	s.ua.emit(signaling.CallFailed{Session: s, StatusCode: code, Reason: reason})
}

func (s *session) mediaFailed(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	established := s.established
	s.mu.Unlock()

	kind := failureKind(err)
	s.log.Warnf("media failure %s: %v", kind, err)
	switch {
	case established:
		s.sendBye()
	case s.originator == signaling.OriginatorRemote:
		s.respond(s.inviteReq, 488, "Not Acceptable Here")
	default:
		if s.cancelInvite != nil {
			s.cancelInvite()
		}
	}
	s.release()
	s.ua.emit(signaling.MediaFailed{Session: s, Kind: kind, Err: err})
}

// invite runs an outbound INVITE transaction to completion.
func (s *session) invite(ctx context.Context, opts signaling.CallOptions) {
	s.ua.emit(signaling.SessionCreated{Session: s, Originator: signaling.OriginatorLocal})

	m, err := newMediaPipe(s.ua.cfg.ICEServers, opts.Media, s.log, s.onTrack)
	if err != nil {
		s.mediaFailed(err)
		return
	}
	if !s.setMedia(m) {
		m.close()
		return
	}
	offer, err := m.offer(ctx)
	if err != nil {
		s.mediaFailed(err)
		return
	}

	req, seq, err := s.request(sip.INVITE, contentTypeSDP, offer)
	if err != nil {
		s.fail(0, fmt.Sprintf("build INVITE: %v", err))
		return
	}
	for _, line := range opts.ExtraHeaders {
		hdr, err := parseHeader(line)
		if err != nil {
			s.log.Warnf("skipping extra header: %v", err)
			continue
		}
		req.AppendHeader(hdr)
	}

	if s.isClosed() {
		return
	}
	tx, err := s.ua.srv.Request(req)
	if err != nil {
		s.fail(0, fmt.Sprintf("send INVITE: %v", err))
		return
	}
	res, err := awaitFinal(ctx, tx, func(res sip.Response) {
		s.learnDialog(res)
		s.ua.emit(signaling.Progress{Session: s, StatusCode: int(res.StatusCode())})
	})
	if err != nil {
		s.fail(408, err.Error())
		return
	}
	s.log.Infof("received SIP response: %d %s", res.StatusCode(), res.Reason())
	if !res.IsSuccess() {
		s.fail(int(res.StatusCode()), res.Reason())
		return
	}
	s.confirm(res, seq)
}

// confirm ACKs a 2xx to the initial INVITE and applies the answer.
func (s *session) confirm(res sip.Response, seq uint) {
	s.learnDialog(res)
	s.ack(seq)

	s.mu.Lock()
	s.established = true
	closed := s.closed
	m := s.media
	s.mu.Unlock()
	if closed {
		// 2xx crossed our CANCEL
		s.sendBye()
		return
	}

	if err := m.accept(res.Body()); err != nil {
		s.mediaFailed(err)
		return
	}
	s.ua.emit(signaling.Accepted{Session: s})
	s.ua.emit(signaling.Confirmed{Session: s})
}

// accept answers an inbound INVITE with a 200 carrying the local SDP.
func (s *session) accept(ctx context.Context, constraints signaling.MediaConstraints, offer string) {
	m, err := newMediaPipe(s.ua.cfg.ICEServers, constraints, s.log, s.onTrack)
	if err != nil {
		s.mediaFailed(err)
		return
	}
	if !s.setMedia(m) {
		m.close()
		return
	}
	if offer == "" {
		s.mediaFailed(failure(signaling.FailureSetRemoteDescription, errors.New("INVITE carries no offer")))
		return
	}
	answer, err := m.answer(ctx, offer)
	if err != nil {
		s.mediaFailed(err)
		return
	}

	res := newResponse(s.inviteReq, 200, "OK", answer, s.localTag())
	ct := sip.ContentType(contentTypeSDP)
	res.AppendHeader(&ct)
	res.AppendHeader(&sip.ContactHeader{Address: s.ua.contact.Uri})

	if _, err := s.ua.srv.Respond(res); err != nil {
		s.fail(500, fmt.Sprintf("send 200 OK: %v", err))
		return
	}
	s.mu.Lock()
	s.established = true
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.sendBye()
		return
	}
	s.ua.emit(signaling.Accepted{Session: s})
}

// reinvite offers the current local SDP with dir.
func (s *session) reinvite(dir string) {
	s.mu.Lock()
	m := s.media
	s.mu.Unlock()
	body, err := withDirection(m.currentSDP(), dir)
	if err != nil {
		s.log.Warnf("re-INVITE %s: %v", dir, err)
		return
	}
	req, seq, err := s.request(sip.INVITE, contentTypeSDP, body)
	if err != nil {
		s.log.Warnf("build re-INVITE: %v", err)
		return
	}
	tx, err := s.ua.srv.Request(req)
	if err != nil {
		s.log.Warnf("send re-INVITE: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	res, err := awaitFinal(ctx, tx, nil)
	if err != nil {
		s.log.Warnf("re-INVITE %s: %v", dir, err)
		return
	}
	if !res.IsSuccess() {
		s.log.Warnf("re-INVITE %s rejected: %d %s", dir, res.StatusCode(), res.Reason())
		return
	}
	s.ack(seq)
	s.log.Infof("media direction now %s", dir)
}

func (s *session) sendBye() {
	req, _, err := s.request(sip.BYE, "", "")
	if err != nil {
		s.log.Warnf("build BYE: %v", err)
		return
	}
	s.ua.transact(req)
}

func (s *session) ack(seq uint) {
	s.mu.Lock()
	local, remote, target := s.localAddr, s.remoteAddr, s.remoteTarget
	s.mu.Unlock()

	cid := sip.CallID(s.callID)
	req, err := s.ua.build(s.ua.builder(sip.ACK).
		SetRecipient(target).
		SetFrom(local).
		SetTo(remote).
		SetCallID(&cid).
		SetSeqNo(seq))
	if err != nil {
		s.log.Warnf("build ACK: %v", err)
		return
	}
	if err := s.ua.srv.Send(req); err != nil {
		s.log.Warnf("send ACK: %v", err)
	}
}

// request builds an in-dialog request with the next local CSeq.
func (s *session) request(method sip.RequestMethod, contentType, body string) (sip.Request, uint, error) {
	s.mu.Lock()
	s.cseq++
	seq := s.cseq
	local, remote, target := s.localAddr, s.remoteAddr, s.remoteTarget
	s.mu.Unlock()

	cid := sip.CallID(s.callID)
	rb := s.ua.builder(method).
		SetRecipient(target).
		SetFrom(local).
		SetTo(remote).
		SetCallID(&cid).
		SetSeqNo(seq)
	if contentType != "" {
		ct := sip.ContentType(contentType)
		rb.SetContentType(&ct).SetBody(body)
	}
	req, err := s.ua.build(rb)
	return req, seq, err
}

// learnDialog takes the remote tag and target from a response.
func (s *session) learnDialog(res sip.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if toHdr, ok := res.To(); ok && toHdr.Params != nil {
		if tag, ok := toHdr.Params.Get("tag"); ok {
			s.remoteAddr.Params = s.remoteAddr.Params.Add("tag", tag)
		}
	}
	if c, ok := res.Contact(); ok && c.Address != nil {
		s.remoteTarget = c.Address
	}
}

// awaitFinal waits for the final response of a client transaction. A
// canceled ctx sends CANCEL and keeps waiting for the 487.
func awaitFinal(ctx context.Context, tx sip.ClientTransaction, provisional func(sip.Response)) (sip.Response, error) {
	cancelled := ctx.Done()
	for {
		select {
		case <-cancelled:
			cancelled = nil
			if err := tx.Cancel(); err != nil {
				return nil, fmt.Errorf("cancel: %w", err)
			}
		case res, ok := <-tx.Responses():
			if !ok {
				return nil, errTransactionDone
			}
			if res == nil {
				continue
			}
			if res.IsProvisional() {
				if provisional != nil {
					provisional(res)
				}
				continue
			}
			return res, nil
		case err, ok := <-tx.Errors():
			if !ok {
				return nil, errTransactionDone
			}
			if err != nil {
				return nil, err
			}
		case <-tx.Done():
			select {
			case res := <-tx.Responses():
				if res != nil && !res.IsProvisional() {
					return res, nil
				}
			default:
			}
			return nil, errTransactionDone
		}
	}
}

func dtmfBody(digit string) (string, error) {
	d := strings.ToUpper(digit)
	if len(d) != 1 || !strings.Contains(dtmfDigits, d) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDTMF, digit)
	}
	return fmt.Sprintf("Signal=%s\r\nDuration=250\r\n", d), nil
}

// parseHeader turns "Name: value" into a header.
func parseHeader(line string) (sip.Header, error) {
	name, value, ok := strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return nil, fmt.Errorf("malformed header %q", line)
	}
	return &sip.GenericHeader{HeaderName: name, Contents: strings.TrimSpace(value)}, nil
}

// replyDirection is the direction we answer a remote re-offer with.
func replyDirection(remote string, held bool) string {
	switch remote {
	case DirectionSendOnly:
		if held {
			return DirectionInactive
		}
		return DirectionRecvOnly
	case DirectionRecvOnly:
		return DirectionSendOnly
	case DirectionInactive:
		return DirectionInactive
	default:
		if held {
			return DirectionSendOnly
		}
		return DirectionSendRecv
	}
}
