package sipua

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gosip "github.com/ghettovoice/gosip"
	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/ghettovoice/gosip/transport"
	"github.com/ghettovoice/gosip/util"
	"github.com/sirupsen/logrus"

	"whistle/signaling"
)

const (
	registerRetry  = 30 * time.Second
	requestTimeout = 10 * time.Second
)

// UA is a SIP user agent with one peer connection per session.
type UA struct {
	cfg     Config
	log     *logrus.Entry
	sipLog  *logrus.Entry
	network string

	mu         sync.Mutex
	srv        gosip.Server
	host       string
	contact    *sip.Address
	handler    signaling.Handler
	sessions   map[string]*session
	started    bool
	registered bool
	regCallID  string
	regTag     string
	regSeq     uint
	ctx        context.Context
	cancel     context.CancelFunc

	loops   sync.WaitGroup
	pending sync.WaitGroup
}

// New creates a stopped user agent.
func New(cfg Config) *UA {
	log := cfg.Log
	if log == nil {
		log = logrus.WithField("name", "sipua")
	}
	sipLog := cfg.SIPLog
	if sipLog == nil {
		sipLog = log
	}
	return &UA{
		cfg:      cfg,
		log:      log,
		sipLog:   sipLog,
		network:  cfg.network(),
		sessions: make(map[string]*session),
	}
}

// Start listens for SIP traffic and, when configured, registers.
func (u *UA) Start(ctx context.Context, h signaling.Handler) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return fmt.Errorf("user agent already started")
	}

	host, err := localHost(u.cfg.PublicAddress)
	if err != nil {
		return fmt.Errorf("detect host address: %w", err)
	}
	u.log.Infof("starting SIP user agent %s via %s", u.cfg.IdentityURI(), u.cfg.ProxyURI())

	logger := gosiplog.NewLogrusLogger(u.sipLog, "SIP", nil)
	srv := gosip.NewServer(gosip.ServerConfig{Host: host, UserAgent: u.cfg.userAgent()}, nil, nil, logger)

	port, err := u.listen(srv)
	if err != nil {
		srv.Shutdown()
		return err
	}

	contact, err := parser.ParseUri(fmt.Sprintf("sip:%s@%s:%d;transport=%s", u.cfg.User, host, port, u.network))
	if err != nil {
		srv.Shutdown()
		return fmt.Errorf("parse contact uri: %w", err)
	}

	handlers := map[sip.RequestMethod]gosip.RequestHandler{
		sip.INVITE: u.handleInvite,
		sip.ACK:    u.handleAck,
		sip.BYE:    u.handleBye,
		sip.CANCEL: u.handleCancel,
		sip.INFO:   u.handleInfo,
	}
	for method, fn := range handlers {
		if err := srv.OnRequest(method, fn); err != nil {
			srv.Shutdown()
			return fmt.Errorf("register %s handler: %w", method, err)
		}
	}

	u.srv = srv
	u.host = host
	u.contact = &sip.Address{Uri: contact}
	u.handler = h
	u.regCallID = util.RandString(32)
	u.regTag = util.RandString(8)
	u.ctx, u.cancel = context.WithCancel(ctx)
	u.started = true

	if u.cfg.Register {
		u.loops.Add(1)
		go u.registerLoop(u.ctx)
	}
	return nil
}

// listen binds the first free port of the configured range.
func (u *UA) listen(srv gosip.Server) (int, error) {
	var opts []transport.ListenOption
	if u.cfg.TLSCert != "" {
		opts = append(opts, transport.TLSConfig{Cert: u.cfg.TLSCert, Key: u.cfg.TLSKey})
	}

	var listenErr error
	for i := 0; i <= u.cfg.PortRange; i++ {
		port := u.cfg.LocalPort + i
		addr := fmt.Sprintf(":%d", port)
		listenErr = srv.Listen(u.network, addr, opts...)
		if listenErr == nil {
			u.log.Infof("SIP listening on %s/%s", addr, u.network)
			return port, nil
		}
		u.log.Warnf("failed to listen on %s: %v", addr, listenErr)
	}
	return 0, fmt.Errorf("sip listen: %w", listenErr)
}

// Stop ends every session, unregisters and shuts the transport down.
func (u *UA) Stop() error {
	u.mu.Lock()
	if !u.started {
		u.mu.Unlock()
		return nil
	}
	u.started = false
	u.cancel()
	sessions := make([]*session, 0, len(u.sessions))
	for _, s := range u.sessions {
		sessions = append(sessions, s)
	}
	u.mu.Unlock()

	for _, s := range sessions {
		if err := s.Terminate(); err != nil {
			u.log.Debugf("terminate session %s: %v", s.id, err)
		}
	}
	u.loops.Wait()

	var err error
	if u.isRegistered() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		err = u.register(ctx, 0)
		cancel()
		if err != nil {
			err = fmt.Errorf("unregister: %w", err)
		} else {
			u.setRegistered(false)
			u.emit(signaling.Unregistered{})
		}
	}

	u.pending.Wait()
	u.srv.Shutdown()
	u.log.Info("SIP user agent stopped")
	return err
}

// Call starts an outbound session to target.
func (u *UA) Call(ctx context.Context, target string, opts signaling.CallOptions) (signaling.Session, error) {
	to, err := parser.ParseUri(target)
	if err != nil {
		return nil, fmt.Errorf("parse target uri: %w", err)
	}
	from, err := parser.ParseUri(u.cfg.IdentityURI())
	if err != nil {
		return nil, fmt.Errorf("parse identity uri: %w", err)
	}

	u.mu.Lock()
	if !u.started {
		u.mu.Unlock()
		return nil, ErrNotStarted
	}
	s := u.newSession(util.RandString(32), signaling.OriginatorLocal, signaling.Identity{URI: to.String()})
	s.localAddr = &sip.Address{Uri: from, Params: sip.NewParams().Add("tag", sip.String{Str: util.RandString(8)})}
	s.remoteAddr = &sip.Address{Uri: to, Params: sip.NewParams()}
	s.remoteTarget = to
	u.sessions[s.callID] = s
	uaCtx := u.ctx
	u.mu.Unlock()

	inviteCtx, cancel := context.WithCancel(uaCtx)
	s.cancelInvite = cancel
	u.log.Infof("SIP dial %s (session %s)", to, s.id)
	go s.invite(inviteCtx, opts)
	return s, nil
}

func (u *UA) emit(ev signaling.Event) {
	u.mu.Lock()
	h := u.handler
	u.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (u *UA) lookup(req sip.Request) (*session, string) {
	callID := ""
	if cid, ok := req.CallID(); ok && cid != nil {
		callID = string(*cid)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessions[callID], callID
}

func (u *UA) forget(s *session) {
	u.mu.Lock()
	if cur, ok := u.sessions[s.callID]; ok && cur == s {
		delete(u.sessions, s.callID)
	}
	u.mu.Unlock()
}

// builder returns a request builder with the transport fields filled in.
func (u *UA) builder(method sip.RequestMethod) *sip.RequestBuilder {
	return sip.NewRequestBuilder().
		SetMethod(method).
		SetTransport(strings.ToUpper(u.network)).
		SetHost(u.host).
		SetContact(u.contact)
}

func (u *UA) build(rb *sip.RequestBuilder) (sip.Request, error) {
	req, err := rb.Build()
	if err != nil {
		return nil, err
	}
	req.SetDestination(u.cfg.destination())
	return req, nil
}

// transact sends a non-INVITE request in the background and logs the outcome.
func (u *UA) transact(req sip.Request) {
	u.pending.Add(1)
	go func() {
		defer u.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := u.srv.RequestWithContext(ctx, req)
		if err != nil {
			u.log.Warnf("SIP %s failed: %v", req.Method(), err)
			return
		}
		u.log.Debugf("SIP %s answered: %d %s", req.Method(), res.StatusCode(), res.Reason())
	}()
}

func (u *UA) isRegistered() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.registered
}

func (u *UA) setRegistered(v bool) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	was := u.registered
	u.registered = v
	return was
}

// registerLoop keeps the binding fresh, refreshing at half the expiry.
func (u *UA) registerLoop(ctx context.Context) {
	defer u.loops.Done()
	expires := u.cfg.registerExpires()
	for {
		wait := expires / 2
		if err := u.register(ctx, expires); err != nil {
			if ctx.Err() != nil {
				return
			}
			u.log.Warnf("REGISTER failed: %v", err)
			u.setRegistered(false)
			u.emit(signaling.RegistrationFailed{Err: err})
			wait = registerRetry
		} else if !u.setRegistered(true) {
			u.log.Infof("registered as %s", u.cfg.IdentityURI())
			u.emit(signaling.Registered{})
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// register sends one REGISTER; expires 0 removes the binding.
func (u *UA) register(ctx context.Context, expires time.Duration) error {
	registrar, err := parser.ParseUri(u.cfg.registrarURI())
	if err != nil {
		return fmt.Errorf("parse registrar uri: %w", err)
	}
	aor, err := parser.ParseUri(u.cfg.IdentityURI())
	if err != nil {
		return fmt.Errorf("parse identity uri: %w", err)
	}

	u.mu.Lock()
	u.regSeq++
	seq := u.regSeq
	cid := sip.CallID(u.regCallID)
	tag := u.regTag
	u.mu.Unlock()

	rb := u.builder(sip.REGISTER).
		SetRecipient(registrar).
		SetFrom(&sip.Address{Uri: aor, Params: sip.NewParams().Add("tag", sip.String{Str: tag})}).
		SetTo(&sip.Address{Uri: aor}).
		SetCallID(&cid).
		SetSeqNo(seq)
	rb.AddHeader(&sip.GenericHeader{HeaderName: "Expires", Contents: strconv.Itoa(int(expires / time.Second))})
	if u.cfg.AuthorizationJWT != "" {
		rb.AddHeader(&sip.GenericHeader{HeaderName: "Authorization", Contents: "Bearer " + u.cfg.AuthorizationJWT})
	}
	req, err := u.build(rb)
	if err != nil {
		return fmt.Errorf("build REGISTER: %w", err)
	}

	res, err := u.srv.RequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("send REGISTER: %w", err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("registrar answered %d %s", res.StatusCode(), res.Reason())
	}
	return nil
}
