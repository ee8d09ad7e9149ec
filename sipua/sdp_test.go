package sipua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offerSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=sendrecv\r\n" +
	"a=mid:0\r\n"

func TestWithDirection(t *testing.T) {
	out, err := withDirection(offerSDP, DirectionSendOnly)
	require.NoError(t, err)

	assert.Contains(t, out, "a=sendonly")
	assert.NotContains(t, out, "a=sendrecv")
	assert.Contains(t, out, "a=rtpmap:111 opus/48000/2")
	assert.Contains(t, out, "o=- 4215775240449105457 3 IN IP4 127.0.0.1")

	dir, err := mediaDirection(out)
	require.NoError(t, err)
	assert.Equal(t, DirectionSendOnly, dir)

	back, err := withDirection(out, DirectionSendRecv)
	require.NoError(t, err)
	dir, err = mediaDirection(back)
	require.NoError(t, err)
	assert.Equal(t, DirectionSendRecv, dir)
}

func TestWithDirectionErrors(t *testing.T) {
	_, err := withDirection(offerSDP, "sideways")
	assert.Error(t, err)

	_, err = withDirection("not an sdp", DirectionSendOnly)
	assert.Error(t, err)
}

func TestMediaDirectionDefault(t *testing.T) {
	noDir := "v=0\r\n" +
		"o=- 1 1 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 RTP/AVP 0\r\n"
	dir, err := mediaDirection(noDir)
	require.NoError(t, err)
	assert.Equal(t, DirectionSendRecv, dir)
}

func TestReplyDirection(t *testing.T) {
	tests := []struct {
		remote string
		held   bool
		want   string
	}{
		{DirectionSendRecv, false, DirectionSendRecv},
		{DirectionSendRecv, true, DirectionSendOnly},
		{DirectionSendOnly, false, DirectionRecvOnly},
		{DirectionSendOnly, true, DirectionInactive},
		{DirectionRecvOnly, false, DirectionSendOnly},
		{DirectionInactive, false, DirectionInactive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, replyDirection(tt.remote, tt.held), "remote %s held %v", tt.remote, tt.held)
	}
}
