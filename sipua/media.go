package sipua

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"

	"whistle/signaling"
)

const (
	frameDuration = 20 * time.Millisecond
	opusFmtp      = "minptime=10;useinbandfec=1;stereo=0"
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// mediaPipe is the peer connection of one session with its local audio
// source. The source sends silence frames until muted or held.
type mediaPipe struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample
	log   *logrus.Entry

	mu     sync.Mutex
	muted  bool
	held   bool
	closed bool
	cancel context.CancelFunc
}

func newMediaPipe(iceServers []string, constraints signaling.MediaConstraints, log *logrus.Entry,
	onTrack func(signaling.Stream)) (*mediaPipe, error) {
	if !constraints.Audio {
		return nil, failure(signaling.FailureUserMedia, fmt.Errorf("audio disabled by constraints"))
	}
	if constraints.Video {
		log.Debug("video requested, negotiating audio only")
	}

	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: iceServers})
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, failure(signaling.FailureUserMedia, fmt.Errorf("new peer connection: %w", err))
	}

	// opus is always advertised as two channels; stereo=0 keeps the call mono
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: opusFmtp,
	}, "audio", "whistle")
	if err != nil {
		_ = pc.Close()
		return nil, failure(signaling.FailureUserMedia, fmt.Errorf("local track: %w", err))
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, failure(signaling.FailureUserMedia, fmt.Errorf("add track: %w", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &mediaPipe{pc: pc, track: track, log: log, cancel: cancel}

	// RTCP has to be read for interceptors to run
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			log.Debugf("ignoring remote %s track %s", remote.Kind(), remote.ID())
			return
		}
		log.Infof("remote audio track %s (%s)", remote.ID(), remote.Codec().MimeType)
		onTrack(&remoteStream{track: remote})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debugf("peer connection state %s", state)
	})

	go m.pump(ctx)
	return m, nil
}

// pump feeds the local track with silence frames.
func (m *mediaPipe) pump(ctx context.Context) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.sending() {
				continue
			}
			if err := m.track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				m.log.Debugf("write sample: %v", err)
			}
		}
	}
}

func (m *mediaPipe) sending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.muted && !m.held && !m.closed
}

func (m *mediaPipe) setMuted(v bool) {
	m.mu.Lock()
	m.muted = v
	m.mu.Unlock()
}

func (m *mediaPipe) setHeld(v bool) {
	m.mu.Lock()
	m.held = v
	m.mu.Unlock()
}

// offer creates the local offer and waits for candidate gathering.
func (m *mediaPipe) offer(ctx context.Context) (string, error) {
	o, err := m.pc.CreateOffer(nil)
	if err != nil {
		return "", failure(signaling.FailureCreateOffer, err)
	}
	gathered := webrtc.GatheringCompletePromise(m.pc)
	if err := m.pc.SetLocalDescription(o); err != nil {
		return "", failure(signaling.FailureSetLocalDescription, err)
	}
	return m.localSDP(ctx, gathered)
}

// accept applies the answer of the remote side to our offer.
func (m *mediaPipe) accept(answer string) error {
	if err := m.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return failure(signaling.FailureSetRemoteDescription, err)
	}
	return nil
}

// answer applies a remote offer and returns the local answer.
func (m *mediaPipe) answer(ctx context.Context, offer string) (string, error) {
	if err := m.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", failure(signaling.FailureSetRemoteDescription, err)
	}
	a, err := m.pc.CreateAnswer(nil)
	if err != nil {
		return "", failure(signaling.FailureCreateAnswer, err)
	}
	gathered := webrtc.GatheringCompletePromise(m.pc)
	if err := m.pc.SetLocalDescription(a); err != nil {
		return "", failure(signaling.FailureSetLocalDescription, err)
	}
	return m.localSDP(ctx, gathered)
}

func (m *mediaPipe) localSDP(ctx context.Context, gathered <-chan struct{}) (string, error) {
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", failure(signaling.FailureSetLocalDescription, ctx.Err())
	}
	desc := m.pc.LocalDescription()
	if desc == nil {
		return "", failure(signaling.FailureSetLocalDescription, fmt.Errorf("no local description"))
	}
	return desc.SDP, nil
}

// currentSDP is the negotiated local description, used for re-INVITEs.
func (m *mediaPipe) currentSDP() string {
	if desc := m.pc.LocalDescription(); desc != nil {
		return desc.SDP
	}
	return ""
}

// stats sums the inbound audio RTP counters of the peer connection.
func (m *mediaPipe) stats() signaling.InboundStats {
	st := signaling.InboundStats{Timestamp: time.Now()}
	for _, s := range m.pc.GetStats() {
		in, ok := s.(webrtc.InboundRTPStreamStats)
		if !ok || in.Kind != "audio" {
			continue
		}
		st.PacketsReceived += int64(in.PacketsReceived)
		st.PacketsLost += int64(in.PacketsLost)
	}
	return st
}

func (m *mediaPipe) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	if err := m.pc.Close(); err != nil {
		m.log.Debugf("close peer connection: %v", err)
	}
}

// remoteStream exposes a remote track as a signaling.Stream.
type remoteStream struct {
	track *webrtc.TrackRemote
}

func (s *remoteStream) ID() string        { return s.track.ID() }
func (s *remoteStream) MimeType() string  { return s.track.Codec().MimeType }
func (s *remoteStream) ClockRate() uint32 { return s.track.Codec().ClockRate }
func (s *remoteStream) Channels() uint16  { return s.track.Codec().Channels }

func (s *remoteStream) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}
