package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	ini "gopkg.in/ini.v1"

	"whistle/issuer"
	"whistle/phone"
	"whistle/sipua"
)

// Settings holds application configuration loaded from settings.ini.
type Settings struct {
	proxy            string
	port             int
	insecure         bool
	transport        string
	user             string
	domain           string
	register         bool
	authorizationJWT string
	localPort        int
	portRange        int
	publicAddress    string
	userAgent        string
	registerExpires  int
	stunServer       string
	tlsCert          string
	tlsKey           string

	recordDir       string
	monitorInterval int

	autoAnswer bool

	tokenURL       string
	tokenAccountID string
	tokenAPIKey    string
	tokenTo        string
	tokenFrom      string
	tokenUses      int
}

// LoadSettings reads configuration from ini file and validates required fields.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("sip")
	s.proxy = sec.Key("proxy").String()
	s.port = sec.Key("port").MustInt(0)
	s.insecure = sec.Key("insecure").MustBool(false)
	s.transport = strings.ToLower(sec.Key("transport").MustString("wss"))
	s.user = sec.Key("user").String()
	s.domain = sec.Key("domain").String()
	s.register = sec.Key("register").MustBool(true)
	s.authorizationJWT = sec.Key("authorization_jwt").String()
	s.localPort = sec.Key("local_port").MustInt(5080)
	s.portRange = sec.Key("port_range").MustInt(0)
	s.publicAddress = sec.Key("public_address").String()
	s.userAgent = sec.Key("user_agent").MustString("whistle")
	s.registerExpires = sec.Key("register_expires").MustInt(600)
	s.stunServer = sec.Key("stun_server").String()
	s.tlsCert = sec.Key("tls_cert").String()
	s.tlsKey = sec.Key("tls_key").String()

	sec = cfg.Section("media")
	s.recordDir = sec.Key("record_dir").String()
	s.monitorInterval = sec.Key("monitor_interval").MustInt(5)

	sec = cfg.Section("console")
	s.autoAnswer = sec.Key("auto_answer").MustBool(false)

	sec = cfg.Section("token")
	s.tokenURL = sec.Key("url").String()
	s.tokenAccountID = sec.Key("account_id").String()
	s.tokenAPIKey = sec.Key("api_key").String()
	s.tokenTo = sec.Key("to").String()
	s.tokenFrom = sec.Key("from").String()
	s.tokenUses = sec.Key("uses").MustInt(issuer.DefaultUses)

	if s.proxy == "" || s.user == "" {
		return nil, fmt.Errorf("sip proxy and user must be set")
	}
	switch s.transport {
	case "ws", "wss", "udp", "tcp", "tls":
	default:
		return nil, fmt.Errorf("unsupported sip transport %q", s.transport)
	}
	if s.monitorInterval <= 0 {
		return nil, fmt.Errorf("media monitor_interval must be positive")
	}
	if s.tokenAccountID != "" || s.tokenAPIKey != "" {
		if s.tokenURL == "" || s.tokenAccountID == "" || s.tokenAPIKey == "" {
			return nil, fmt.Errorf("token url, account_id and api_key must be set together")
		}
	}

	return s, nil
}

func (s *Settings) Proxy() string            { return s.proxy }
func (s *Settings) Port() int                { return s.port }
func (s *Settings) Insecure() bool           { return s.insecure }
func (s *Settings) Transport() string        { return s.transport }
func (s *Settings) User() string             { return s.user }
func (s *Settings) Domain() string           { return s.domain }
func (s *Settings) Register() bool           { return s.register }
func (s *Settings) AuthorizationJWT() string { return s.authorizationJWT }
func (s *Settings) LocalPort() int           { return s.localPort }
func (s *Settings) PortRange() int           { return s.portRange }
func (s *Settings) PublicAddress() string    { return s.publicAddress }
func (s *Settings) UserAgent() string        { return s.userAgent }
func (s *Settings) StunServer() string       { return s.stunServer }
func (s *Settings) RecordDir() string        { return s.recordDir }
func (s *Settings) AutoAnswer() bool         { return s.autoAnswer }
func (s *Settings) TLSCert() string          { return s.tlsCert }
func (s *Settings) TLSKey() string           { return s.tlsKey }

func (s *Settings) RegisterExpires() time.Duration {
	return time.Duration(s.registerExpires) * time.Second
}

func (s *Settings) MonitorInterval() time.Duration {
	return time.Duration(s.monitorInterval) * time.Second
}

// ICEServers returns the STUN server as an ICE URL list.
func (s *Settings) ICEServers() []string {
	srv := s.StunServer()
	if srv == "" {
		return nil
	}
	if strings.HasPrefix(srv, "stun:") || strings.HasPrefix(srv, "stuns:") {
		return []string{srv}
	}
	return []string{"stun:" + srv}
}

// UAConfig builds the engine configuration.
func (s *Settings) UAConfig(log, sipLog *logrus.Entry) sipua.Config {
	return sipua.Config{
		Proxy:            s.Proxy(),
		Port:             s.Port(),
		Insecure:         s.Insecure(),
		Transport:        s.Transport(),
		User:             s.User(),
		Domain:           s.Domain(),
		Register:         s.Register(),
		RegisterExpires:  s.RegisterExpires(),
		AuthorizationJWT: s.AuthorizationJWT(),
		LocalPort:        s.LocalPort(),
		PortRange:        s.PortRange(),
		PublicAddress:    s.PublicAddress(),
		UserAgent:        s.UserAgent(),
		TLSCert:          s.TLSCert(),
		TLSKey:           s.TLSKey(),
		ICEServers:       s.ICEServers(),
		Log:              log,
		SIPLog:           sipLog,
	}
}

// PhoneConfig builds the controller configuration.
func (s *Settings) PhoneConfig(log *logrus.Entry) phone.Config {
	cfg := phone.Config{
		Domain:          s.Domain(),
		Proxy:           s.Proxy(),
		MonitorInterval: s.MonitorInterval(),
		Log:             log,
	}
	if dir := s.RecordDir(); dir != "" {
		cfg.Sink = phone.OggSink{Dir: dir}
	}
	return cfg
}

// IssuerConfig returns the token API settings. ok is false when no
// [token] account is configured.
func (s *Settings) IssuerConfig(log *logrus.Entry) (cfg issuer.Config, ok bool) {
	if s.tokenAccountID == "" {
		return issuer.Config{}, false
	}
	return issuer.Config{
		BaseURL:   s.tokenURL,
		AccountID: s.tokenAccountID,
		APIKey:    s.tokenAPIKey,
		To:        s.tokenTo,
		From:      s.tokenFrom,
		Uses:      s.tokenUses,
		Log:       log,
	}, true
}

// obtainToken replaces the configured authorization token with one issued
// by the account API, when a [token] account is configured.
func (s *Settings) obtainToken(ctx context.Context, log *logrus.Entry) error {
	cfg, ok := s.IssuerConfig(log)
	if !ok {
		return nil
	}
	token, err := issuer.NewClient(cfg).Issue(ctx)
	if err != nil {
		return fmt.Errorf("obtain authorization token: %w", err)
	}
	if s.authorizationJWT != "" {
		log.Info("issued token overrides sip authorization_jwt")
	}
	s.authorizationJWT = token
	return nil
}

// TokenExpiry reads the exp claim of the authorization token without
// verifying it. ok is false when there is no token or no exp claim.
func (s *Settings) TokenExpiry() (exp time.Time, ok bool, err error) {
	if s.authorizationJWT == "" {
		return time.Time{}, false, nil
	}
	token, _, err := jwt.NewParser().ParseUnverified(s.authorizationJWT, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse authorization token: %w", err)
	}
	date, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read token expiry: %w", err)
	}
	if date == nil {
		return time.Time{}, false, nil
	}
	return date.Time, true, nil
}

// checkToken logs when the authorization token is unreadable, expired or
// about to expire.
func (s *Settings) checkToken(log *logrus.Entry, now time.Time) {
	exp, ok, err := s.TokenExpiry()
	switch {
	case err != nil:
		log.Warnf("authorization token: %v", err)
	case !ok:
	case !exp.After(now):
		log.Warnf("authorization token expired at %s", exp.Format(time.RFC3339))
	case exp.Sub(now) < s.RegisterExpires():
		log.Warnf("authorization token expires at %s, before the first registration refresh", exp.Format(time.RFC3339))
	default:
		log.Debugf("authorization token valid until %s", exp.Format(time.RFC3339))
	}
}
