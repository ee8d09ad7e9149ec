package issuer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestIssueRequestFormat(t *testing.T) {
	var got tokenRequest
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/apiserver/Accounts/AC42/Calls/WebRTC/Token", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC42", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, "eyJhbGciOiJIUzI1NiJ9.e30.sig\n")
	}))
	defer mock.Close()

	c := NewClient(Config{
		BaseURL:   mock.URL + "/",
		AccountID: "AC42",
		APIKey:    "secret",
		To:        "+15550100",
		From:      "+15550199",
		Log:       quietLog(),
	})
	token, err := c.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOiJIUzI1NiJ9.e30.sig", token)
	assert.Equal(t, tokenRequest{To: "+15550100", From: "+15550199", Uses: DefaultUses}, got)
}

func TestIssueRejectedByServer(t *testing.T) {
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer mock.Close()

	_, err := NewClient(Config{BaseURL: mock.URL, AccountID: "AC42", APIKey: "wrong", Log: quietLog()}).
		Issue(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestIssueCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(Config{BaseURL: "127.0.0.1:1", AccountID: "AC42", Log: quietLog()}).Issue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEndpoint(t *testing.T) {
	c := NewClient(Config{BaseURL: "api.example.com", AccountID: "AC1"})
	assert.Equal(t, "https://api.example.com/apiserver/Accounts/AC1/Calls/WebRTC/Token", c.endpoint())

	c = NewClient(Config{BaseURL: "http://localhost:8080/", AccountID: "AC1"})
	assert.Equal(t, "http://localhost:8080/apiserver/Accounts/AC1/Calls/WebRTC/Token", c.endpoint())
}

func TestParseToken(t *testing.T) {
	for _, tc := range []struct {
		body string
		want string
		err  bool
	}{
		{body: "abc.def.ghi", want: "abc.def.ghi"},
		{body: `"abc.def.ghi"`, want: "abc.def.ghi"},
		{body: `{"token":"abc.def.ghi"}`, want: "abc.def.ghi"},
		{body: "  \n", err: true},
		{body: `{"error":"nope"}`, err: true},
		{body: `"unterminated`, err: true},
	} {
		got, err := parseToken([]byte(tc.body))
		if tc.err {
			assert.Error(t, err, tc.body)
			continue
		}
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.want, got)
	}
}
