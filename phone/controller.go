package phone

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"whistle/signaling"
)

// Config holds the settings the controller reads for its whole lifetime.
type Config struct {
	// Domain is used to complete dial strings without a scheme.
	Domain string
	// Proxy is the transport target, used when Domain is empty.
	Proxy string
	// MonitorInterval defaults to DefaultMonitorInterval.
	MonitorInterval time.Duration
	// Sink receives inbound audio. Nil drains it.
	Sink Sink
	Log  *logrus.Entry
}

// DialOptions are per-call options for Dial.
type DialOptions struct {
	// ExtraHeaders are forwarded to the engine unmodified, "Name: value" each.
	ExtraHeaders []string
}

// Controller owns the state of the single call. All state lives on the
// goroutine running Run; public methods hand a closure to that goroutine
// and wait for its answer.
//
// Handler methods run on that goroutine too and must not call Controller
// methods synchronously.
type Controller struct {
	ua       signaling.UA
	handler  Handler
	domain   string
	proxy    string
	interval time.Duration
	binder   *MediaBinder
	log      *logrus.Entry

	inbox    chan func()
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	// owned by the Run goroutine
	ctx        context.Context
	state      CallState
	session    signaling.Session
	seq        uint64
	answered   bool
	querying   bool
	callCtx    context.Context
	cancelCall context.CancelFunc
	monitor    *Monitor
	ticker     *time.Ticker
	tick       <-chan time.Time
}

// NewController creates an idle controller on top of ua.
func NewController(ua signaling.UA, h Handler, cfg Config) *Controller {
	if h == nil {
		h = NopHandler{}
	}
	log := cfg.Log
	if log == nil {
		log = logrus.WithField("name", "phone")
	}
	interval := cfg.MonitorInterval
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Controller{
		ua:       ua,
		handler:  h,
		domain:   cfg.Domain,
		proxy:    cfg.Proxy,
		interval: interval,
		binder:   NewMediaBinder(cfg.Sink, log),
		log:      log,
		inbox:    make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
}

// Run starts the engine and processes events until ctx is canceled or Stop
// is called. An active call is hung up before the engine is stopped.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	if err := c.ua.Start(ctx, c.dispatch); err != nil {
		close(c.done)
		return fmt.Errorf("start engine: %w", err)
	}
	c.log.Info("call controller running")

loop:
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.tick:
			c.sampleStats()
		case <-c.quit:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	if c.state == StateActive {
		if err := c.session.Terminate(); err != nil {
			c.log.Warnf("terminate on shutdown: %v", err)
		}
		c.deactivate(c.handler.CallEnded)
	}

	// keep serving the inbox while the engine unregisters
	stopped := make(chan error, 1)
	go func() { stopped <- c.ua.Stop() }()
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case err := <-stopped:
			close(c.done)
			c.log.Info("call controller stopped")
			if err != nil {
				return fmt.Errorf("stop engine: %w", err)
			}
			return nil
		}
	}
}

// Stop makes Run return.
func (c *Controller) Stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// State returns the current call state.
func (c *Controller) State() CallState {
	st := StateIdle
	c.exec(func() bool {
		st = c.state
		return true
	})
	return st
}

// Connectivity returns the last classification of the current call.
func (c *Controller) Connectivity() ConnectivityState {
	st := ConnectivityUnknown
	c.exec(func() bool {
		if c.monitor != nil {
			st = c.monitor.State()
		}
		return true
	})
	return st
}

// Dial places an outbound call. It returns false unless the controller is idle
// and the engine accepted the request.
func (c *Controller) Dial(target string, opts DialOptions) bool {
	return c.exec(func() bool {
		if c.state != StateIdle {
			c.log.Debugf("dial rejected in state %s", c.state)
			return false
		}
		uri := ResolveTarget(target, c.domain, c.proxy)
		sess, err := c.ua.Call(c.ctx, uri, signaling.CallOptions{
			Media:        signaling.AudioOnly,
			ExtraHeaders: opts.ExtraHeaders,
		})
		if err != nil {
			c.log.Warnf("dial %s failed: %v", uri, err)
			return false
		}
		c.log.Infof("dialing %s (session %s)", uri, sess.ID())
		c.activate(sess)
		return true
	})
}

// Answer accepts the ringing inbound call.
func (c *Controller) Answer() bool {
	return c.exec(func() bool {
		if c.state != StateActive || c.session.Originator() != signaling.OriginatorRemote || c.answered {
			c.log.Debugf("answer rejected in state %s", c.state)
			return false
		}
		if err := c.session.Answer(c.callCtx, signaling.AudioOnly); err != nil {
			c.log.Warnf("answer failed: %v", err)
			return false
		}
		c.answered = true
		return true
	})
}

// Hangup terminates the current call and returns to Idle.
func (c *Controller) Hangup() bool {
	return c.exec(func() bool {
		if c.state != StateActive {
			c.log.Debugf("hangup rejected in state %s", c.state)
			return false
		}
		if err := c.session.Terminate(); err != nil {
			c.log.Warnf("terminate failed: %v", err)
		}
		c.deactivate(c.handler.CallEnded)
		return true
	})
}

// SendDTMF sends one digit on the current call.
func (c *Controller) SendDTMF(digit string) bool {
	return c.withSession("dtmf", func(s signaling.Session) error {
		return s.SendDTMF(digit)
	})
}

// SetMute mutes or unmutes the local audio.
func (c *Controller) SetMute(mute bool) bool {
	return c.withSession("mute", func(s signaling.Session) error {
		if mute {
			return s.Mute()
		}
		return s.Unmute()
	})
}

// SetHold puts the call on hold or resumes it.
func (c *Controller) SetHold(hold bool) bool {
	return c.withSession("hold", func(s signaling.Session) error {
		if hold {
			return s.Hold()
		}
		return s.Unhold()
	})
}

// SendInfo sends a mid-call INFO.
func (c *Controller) SendInfo(contentType, body string) bool {
	return c.withSession("info", func(s signaling.Session) error {
		return s.SendInfo(contentType, body)
	})
}

// withSession runs fn against the current session when Active. Engine
// errors are logged; the command itself was accepted.
func (c *Controller) withSession(op string, fn func(signaling.Session) error) bool {
	return c.exec(func() bool {
		if c.state != StateActive {
			c.log.Debugf("%s rejected in state %s", op, c.state)
			return false
		}
		if err := fn(c.session); err != nil {
			c.log.Warnf("%s on session %s: %v", op, c.session.ID(), err)
		}
		return true
	})
}

func (c *Controller) activate(sess signaling.Session) {
	c.state = StateActive
	c.session = sess
	c.seq++
	c.answered = false
	c.querying = false
	c.callCtx, c.cancelCall = context.WithCancel(c.ctx)
}

// deactivate performs Active -> Idle and emits notify once. Calling it while
// Idle does nothing.
func (c *Controller) deactivate(notify func()) {
	if c.state == StateIdle {
		return
	}
	c.stopMonitor()
	if c.cancelCall != nil {
		c.cancelCall()
		c.cancelCall = nil
	}
	c.log.Infof("session %s released", c.session.ID())
	c.session = nil
	c.state = StateIdle
	notify()
}

func (c *Controller) startMonitor() {
	if c.ticker != nil {
		return
	}
	c.monitor = NewMonitor()
	c.ticker = time.NewTicker(c.interval)
	c.tick = c.ticker.C
	c.log.Debugf("connectivity monitor started, interval %s", c.interval)
}

func (c *Controller) stopMonitor() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
		c.tick = nil
		c.log.Debug("connectivity monitor stopped")
	}
	c.monitor = nil
}

// sampleStats queries the engine off the loop; the result comes back as a
// closure tagged with the call sequence number. A tick that finds a query
// still pending is skipped.
func (c *Controller) sampleStats() {
	if c.state != StateActive || c.querying {
		return
	}
	c.querying = true
	sess, seq, ctx := c.session, c.seq, c.callCtx
	go func() {
		st, err := sess.Stats(ctx)
		c.post(func() {
			if seq == c.seq {
				c.querying = false
			}
			if err != nil {
				c.log.Debugf("stats query on session %s: %v", sess.ID(), err)
				return
			}
			c.applySample(seq, st)
		})
	}()
}

func (c *Controller) applySample(seq uint64, st signaling.InboundStats) {
	if seq != c.seq || c.state != StateActive || c.monitor == nil {
		c.log.Debug("discarding stats of a finished call")
		return
	}
	if state, changed := c.monitor.Observe(st); changed {
		c.log.Infof("connectivity %s", state)
		c.handler.ConnectivityUpdate(state)
	}
}

func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) exec(fn func() bool) bool {
	reply := make(chan bool, 1)
	if !c.post(func() { reply <- fn() }) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-c.done:
		select {
		case ok := <-reply:
			return ok
		default:
			return false
		}
	}
}
