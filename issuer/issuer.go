package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultUses    = 10
	DefaultTimeout = 30 * time.Second
)

// Config describes the account whose API mints WebRTC call tokens.
type Config struct {
	// BaseURL is the API host, with or without scheme. https is assumed.
	BaseURL   string
	AccountID string
	APIKey    string
	// To and From scope the token to a call; both are optional.
	To   string
	From string
	// Uses is how many registrations or calls the token allows.
	Uses    int
	Timeout time.Duration
	Log     *logrus.Entry
}

// Client requests call tokens from the account API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logrus.Entry
}

func NewClient(cfg Config) *Client {
	if cfg.Uses <= 0 {
		cfg.Uses = DefaultUses
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	log := cfg.Log
	if log == nil {
		log = logrus.WithField("name", "issuer")
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

func (c *Client) endpoint() string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return fmt.Sprintf("%s/apiserver/Accounts/%s/Calls/WebRTC/Token", base, c.cfg.AccountID)
}

type tokenRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Uses int    `json:"uses"`
}

// Issue requests a new token. The API answers with the bare token; a JSON
// string or a {"token": ...} object is accepted too.
func (c *Client) Issue(ctx context.Context) (string, error) {
	body, err := json.Marshal(tokenRequest{To: c.cfg.To, From: c.cfg.From, Uses: c.cfg.Uses})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.AccountID, c.cfg.APIKey)

	c.log.Infof("requesting call token for account %s", c.cfg.AccountID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("token request: %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	token, err := parseToken(respBody)
	if err != nil {
		return "", err
	}
	c.log.Debugf("call token issued, %d uses", c.cfg.Uses)
	return token, nil
}

func parseToken(body []byte) (string, error) {
	raw := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return "", fmt.Errorf("parse token response: %w", err)
		}
		raw = s
	case strings.HasPrefix(raw, "{"):
		var obj struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return "", fmt.Errorf("parse token response: %w", err)
		}
		raw = obj.Token
	}
	if raw == "" {
		return "", fmt.Errorf("token response is empty")
	}
	return raw, nil
}
