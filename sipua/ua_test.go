package sipua

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whistle/signaling"
)

func TestCallBeforeStart(t *testing.T) {
	u := New(Config{Proxy: "pbx", User: "alice", Log: quietLog()})
	_, err := u.Call(context.Background(), "sip:bob@pbx", signaling.CallOptions{Media: signaling.AudioOnly})
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = u.Call(context.Background(), "::not a uri", signaling.CallOptions{})
	assert.Error(t, err)

	assert.NoError(t, u.Stop())
}

func TestSessionLifecycleWithoutDialog(t *testing.T) {
	u := New(Config{Proxy: "pbx", User: "alice", Log: quietLog()})
	events := make(chan signaling.Event, 4)
	u.handler = func(ev signaling.Event) { events <- ev }

	s := u.newSession("call-1", signaling.OriginatorLocal, signaling.Identity{URI: "sip:bob@pbx"})
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelInvite = cancel
	u.sessions[s.callID] = s

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, signaling.OriginatorLocal, s.Originator())
	assert.Equal(t, "sip:bob@pbx", s.RemoteIdentity().URI)

	assert.Error(t, s.Answer(context.Background(), signaling.AudioOnly), "outbound sessions are not answered")
	assert.ErrorIs(t, s.SendInfo("text/plain", "hi"), ErrNotEstablished)
	assert.ErrorIs(t, s.Hold(), ErrNotEstablished)
	assert.NoError(t, s.Mute())

	_, err := s.Stats(context.Background())
	assert.ErrorIs(t, err, ErrNoMedia)

	require.NoError(t, s.Terminate())
	assert.Error(t, ctx.Err(), "pending INVITE is canceled")
	assert.Empty(t, u.sessions)

	select {
	case ev := <-events:
		ended, ok := ev.(signaling.Ended)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, signaling.OriginatorLocal, ended.Originator)
		assert.Equal(t, s.ID(), ended.Session.ID())
	case <-time.After(time.Second):
		t.Fatal("no ended event")
	}

	assert.ErrorIs(t, s.Terminate(), ErrSessionClosed)
	assert.ErrorIs(t, s.Mute(), ErrSessionClosed)
	assert.ErrorIs(t, s.SendDTMF("1"), ErrSessionClosed)
	assert.ErrorIs(t, s.SendDTMF("Z"), ErrInvalidDTMF)
}

func TestAnswerInboundOnce(t *testing.T) {
	u := New(Config{Proxy: "pbx", User: "alice", Log: quietLog()})
	s := u.newSession("call-2", signaling.OriginatorRemote, signaling.Identity{URI: "sip:bob@pbx"})
	s.closed = true
	assert.ErrorIs(t, s.Answer(context.Background(), signaling.AudioOnly), ErrSessionClosed)

	s = u.newSession("call-3", signaling.OriginatorRemote, signaling.Identity{URI: "sip:bob@pbx"})
	s.answered = true
	assert.ErrorIs(t, s.Answer(context.Background(), signaling.AudioOnly), ErrAlreadyAnswered)
}
