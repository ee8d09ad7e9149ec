package phone

import "whistle/signaling"

// dispatch is the signaling.Handler given to the engine. It may be called
// from any goroutine.
func (c *Controller) dispatch(ev signaling.Event) {
	c.post(func() { c.handleEvent(ev) })
}

func (c *Controller) handleEvent(ev signaling.Event) {
	switch e := ev.(type) {
	case signaling.Registered:
		c.log.Info("registered")
		c.handler.Registered()
	case signaling.Unregistered:
		c.log.Info("unregistered")
		c.handler.Unregistered()
	case signaling.RegistrationFailed:
		c.log.Warnf("registration failed: %v", e.Err)
	case signaling.SessionCreated:
		c.onSessionCreated(e)
	case signaling.MediaAttached:
		if c.current(e.Session) {
			c.binder.Attach(c.callCtx, e.Session.ID(), e.Stream)
			c.startMonitor()
		}
	case signaling.MediaFailed:
		if c.current(e.Session) {
			c.log.Warnf("media failure %s: %v", e.Kind, e.Err)
			c.deactivate(c.handler.CallEnded)
		}
	case signaling.Progress:
		if c.current(e.Session) && e.StatusCode == 180 {
			c.handler.CallRinging()
		}
	case signaling.Accepted:
		if c.current(e.Session) {
			c.log.Debugf("session %s accepted", e.Session.ID())
		}
	case signaling.Confirmed:
		if c.current(e.Session) {
			c.handler.CallConnected()
		}
	case signaling.Ended:
		if c.current(e.Session) {
			c.log.Infof("session %s ended by %s: %s", e.Session.ID(), e.Originator, e.Cause)
			c.deactivate(c.handler.CallEnded)
		}
	case signaling.CallFailed:
		if c.current(e.Session) {
			c.log.Infof("session %s failed: %d %s", e.Session.ID(), e.StatusCode, e.Reason)
			c.deactivate(c.handler.CallFailed)
		}
	case signaling.InfoReceived:
		if c.current(e.Session) && e.Originator == signaling.OriginatorRemote {
			c.handler.Info(InfoMessage{ContentType: e.ContentType, Body: e.Body})
		}
	default:
		c.log.Debugf("ignoring engine event %T", ev)
	}
}

func (c *Controller) onSessionCreated(e signaling.SessionCreated) {
	if e.Originator == signaling.OriginatorLocal {
		// bound already by Dial
		return
	}
	if c.state != StateIdle {
		c.log.Infof("rejecting session %s from %s: busy", e.Session.ID(), e.Session.RemoteIdentity().URI)
		if err := e.Session.Terminate(); err != nil {
			c.log.Warnf("reject session %s: %v", e.Session.ID(), err)
		}
		return
	}
	c.activate(e.Session)
	id := e.Session.RemoteIdentity()
	c.log.Infof("incoming call from %s", id.URI)
	c.handler.IncomingCall(id.URI, id.DisplayName)
}

// current reports whether s is the session this controller references.
func (c *Controller) current(s signaling.Session) bool {
	if c.session == nil || s == nil {
		return false
	}
	if c.session.ID() != s.ID() {
		c.log.Debugf("ignoring event of stale session %s", s.ID())
		return false
	}
	return true
}
