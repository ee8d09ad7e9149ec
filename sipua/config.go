// Package sipua is a signaling.UA built on gosip for SIP and pion/webrtc for
// the media pipe of each session.
package sipua

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the engine settings. It is read once by New.
type Config struct {
	// Proxy is the transport target; Port overrides the default port of the transport.
	Proxy string
	Port  int
	// Insecure selects ws instead of wss for the websocket transport.
	Insecure bool
	// Transport is wss (default), udp, tcp or tls. ws is read as wss; only
	// Insecure selects plain ws.
	Transport string

	User   string
	Domain string

	Register         bool
	RegisterExpires  time.Duration
	AuthorizationJWT string

	LocalPort     int
	PortRange     int
	PublicAddress string
	UserAgent     string
	TLSCert       string
	TLSKey        string

	ICEServers []string

	Log    *logrus.Entry
	SIPLog *logrus.Entry
}

func (c Config) domain() string {
	if c.Domain != "" {
		return c.Domain
	}
	return c.Proxy
}

// network returns the gosip network name for the configured transport.
func (c Config) network() string {
	switch t := strings.ToLower(c.Transport); t {
	case "", "ws", "wss":
		if c.Insecure {
			return "ws"
		}
		return "wss"
	default:
		return t
	}
}

func (c Config) port() int {
	if c.Port != 0 {
		return c.Port
	}
	switch c.network() {
	case "ws":
		return 80
	case "wss":
		return 443
	case "tls":
		return 5061
	default:
		return 5060
	}
}

// destination is the host:port every request is sent to.
func (c Config) destination() string {
	return fmt.Sprintf("%s:%d", c.Proxy, c.port())
}

// ProxyURI returns the address of the outbound proxy as the engine dials it.
func (c Config) ProxyURI() string {
	switch n := c.network(); n {
	case "ws", "wss":
		uri := n + "://" + c.Proxy
		if c.Port != 0 {
			uri += fmt.Sprintf(":%d", c.Port)
		}
		return uri
	default:
		return fmt.Sprintf("sip:%s:%d;transport=%s", c.Proxy, c.port(), n)
	}
}

// IdentityURI is the address of record used in From and REGISTER.
func (c Config) IdentityURI() string {
	return "sip:" + c.User + "@" + c.domain()
}

func (c Config) registrarURI() string {
	return "sip:" + c.domain()
}

func (c Config) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return "whistle"
}

func (c Config) registerExpires() time.Duration {
	if c.RegisterExpires > 0 {
		return c.RegisterExpires
	}
	return 600 * time.Second
}
