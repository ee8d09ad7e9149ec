package sipua

import (
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/util"

	"whistle/signaling"
)

// newResponse builds a response to req. A non-nil tag is set on To unless
// the request is already in a dialog.
func newResponse(req sip.Request, code sip.StatusCode, reason, body string, tag sip.MaybeString) sip.Response {
	res := sip.NewResponseFromRequest("", req, code, reason, body)
	if tag == nil {
		return res
	}
	if toHdr, ok := res.To(); ok {
		if toHdr.Params == nil {
			toHdr.Params = sip.NewParams()
		}
		if !toHdr.Params.Has("tag") {
			toHdr.Params = toHdr.Params.Add("tag", tag)
		}
	}
	return res
}

func (u *UA) send(res sip.Response) {
	if _, err := u.srv.Respond(res); err != nil {
		u.log.Warnf("respond %d %s: %v", res.StatusCode(), res.Reason(), err)
	}
}

// respond answers a request that has no dialog on our side.
func (u *UA) respond(req sip.Request, code sip.StatusCode, reason string) {
	if req == nil {
		return
	}
	u.send(newResponse(req, code, reason, "", nil))
}

// respond answers req within the dialog, carrying the local tag.
func (s *session) respond(req sip.Request, code sip.StatusCode, reason string) {
	if req == nil {
		return
	}
	s.ua.send(newResponse(req, code, reason, "", s.localTag()))
}

// handleInvite creates an inbound session and reports it, or answers a
// re-INVITE of a known dialog.
func (u *UA) handleInvite(req sip.Request, tx sip.ServerTransaction) {
	s, callID := u.lookup(req)
	if s != nil {
		s.handleReinvite(req)
		return
	}

	fromHdr, ok := req.From()
	if !ok || fromHdr.Address == nil {
		u.respond(req, 400, "Missing From")
		return
	}
	toHdr, ok := req.To()
	if !ok || toHdr.Address == nil {
		u.respond(req, 400, "Missing To")
		return
	}
	u.log.Infof("received SIP INVITE: %s -> %s", fromHdr.Address, toHdr.Address)

	remote := signaling.Identity{URI: fromHdr.Address.String()}
	if fromHdr.DisplayName != nil {
		remote.DisplayName = fromHdr.DisplayName.String()
	}
	s = u.newSession(callID, signaling.OriginatorRemote, remote)
	s.inviteReq = req
	s.offer = req.Body()
	s.localAddr = &sip.Address{Uri: toHdr.Address, Params: sip.NewParams().Add("tag", sip.String{Str: util.RandString(8)})}
	s.remoteAddr = &sip.Address{DisplayName: fromHdr.DisplayName, Uri: fromHdr.Address, Params: sip.NewParams()}
	if fromHdr.Params != nil {
		if tag, ok := fromHdr.Params.Get("tag"); ok {
			s.remoteAddr.Params = s.remoteAddr.Params.Add("tag", tag)
		}
	}
	s.remoteTarget = fromHdr.Address
	if c, ok := req.Contact(); ok && c.Address != nil {
		s.remoteTarget = c.Address
	}

	u.mu.Lock()
	if !u.started {
		u.mu.Unlock()
		s.respond(req, 503, "Service Unavailable")
		return
	}
	u.sessions[callID] = s
	u.mu.Unlock()

	s.respond(req, 180, "Ringing")
	if tx != nil {
		go s.watchCancel(tx)
	}
	u.emit(signaling.SessionCreated{Session: s, Originator: signaling.OriginatorRemote})
}

// handleAck confirms an answered inbound session.
func (u *UA) handleAck(req sip.Request, tx sip.ServerTransaction) {
	s, callID := u.lookup(req)
	if s == nil {
		u.log.Debugf("ACK for unknown call %s", callID)
		return
	}
	s.mu.Lock()
	first := s.established && !s.confirmed && s.originator == signaling.OriginatorRemote
	if first {
		s.confirmed = true
	}
	s.mu.Unlock()
	if first {
		u.emit(signaling.Confirmed{Session: s})
	}
}

func (u *UA) handleBye(req sip.Request, tx sip.ServerTransaction) {
	s, callID := u.lookup(req)
	if s == nil {
		u.respond(req, 481, "Call/Transaction Does Not Exist")
		return
	}
	u.log.Infof("received SIP BYE: %s", callID)
	u.respond(req, 200, "OK")
	if !s.finish() {
		return
	}
	s.release()
	u.emit(signaling.Ended{Session: s, Originator: signaling.OriginatorRemote, Cause: "BYE"})
}

func (u *UA) handleCancel(req sip.Request, tx sip.ServerTransaction) {
	s, _ := u.lookup(req)
	if s == nil {
		u.respond(req, 481, "Call/Transaction Does Not Exist")
		return
	}
	u.respond(req, 200, "OK")
	s.remoteCancel()
}

// handleInfo reports INFO bodies; DTMF relays are only logged.
func (u *UA) handleInfo(req sip.Request, tx sip.ServerTransaction) {
	s, callID := u.lookup(req)
	if s == nil {
		u.respond(req, 481, "Call/Transaction Does Not Exist")
		return
	}
	u.respond(req, 200, "OK")

	contentType := ""
	if ct, ok := req.ContentType(); ok && ct != nil {
		contentType = string(*ct)
	}
	if contentType == contentTypeDTMF {
		u.log.Infof("received DTMF on %s: %q", callID, req.Body())
		return
	}
	u.emit(signaling.InfoReceived{
		Session:     s,
		Originator:  signaling.OriginatorRemote,
		ContentType: contentType,
		Body:        req.Body(),
	})
}

func (s *session) watchCancel(tx sip.ServerTransaction) {
	select {
	case <-tx.Cancels():
		s.remoteCancel()
	case <-tx.Done():
	}
}

// remoteCancel ends a ringing inbound session the caller gave up on.
func (s *session) remoteCancel() {
	s.mu.Lock()
	if s.closed || s.established {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.respond(s.inviteReq, 487, "Request Terminated")
	s.release()
	s.ua.emit(signaling.CallFailed{Session: s, StatusCode: 487, Reason: "Request Terminated"})
}

// handleReinvite answers a mid-dialog offer with the current local SDP in
// the direction that matches it.
func (s *session) handleReinvite(req sip.Request) {
	s.mu.Lock()
	m, held, established := s.media, s.held, s.established
	s.mu.Unlock()
	if !established || m == nil {
		s.respond(req, 491, "Request Pending")
		return
	}

	remoteDir, err := mediaDirection(req.Body())
	if err != nil {
		s.log.Warnf("re-INVITE offer: %v", err)
		s.respond(req, 488, "Not Acceptable Here")
		return
	}
	dir := replyDirection(remoteDir, held)
	body, err := withDirection(m.currentSDP(), dir)
	if err != nil {
		s.log.Warnf("re-INVITE answer: %v", err)
		s.respond(req, 500, "Server Internal Error")
		return
	}
	s.log.Infof("remote re-INVITE, direction %s, answering %s", remoteDir, dir)

	res := newResponse(req, 200, "OK", body, s.localTag())
	ct := sip.ContentType(contentTypeSDP)
	res.AppendHeader(&ct)
	res.AppendHeader(&sip.ContactHeader{Address: s.ua.contact.Uri})
	if _, err := s.ua.srv.Respond(res); err != nil {
		s.log.Warnf("answer re-INVITE: %v", err)
	}
}
