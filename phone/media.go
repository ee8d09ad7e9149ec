package phone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/sirupsen/logrus"

	"whistle/signaling"
)

// Sink plays back an inbound stream until the stream or ctx ends.
type Sink interface {
	Play(ctx context.Context, sessionID string, s signaling.Stream) error
}

// MediaBinder attaches inbound streams to a sink.
type MediaBinder struct {
	sink Sink
	log  *logrus.Entry
}

// NewMediaBinder creates a binder. A nil sink drains streams.
func NewMediaBinder(sink Sink, log *logrus.Entry) *MediaBinder {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &MediaBinder{sink: sink, log: log}
}

// Attach starts playing s in the background.
func (b *MediaBinder) Attach(ctx context.Context, sessionID string, s signaling.Stream) {
	if s == nil {
		return
	}
	b.log.Infof("attaching inbound stream %s (%s) of session %s", s.ID(), s.MimeType(), sessionID)
	go func() {
		err := b.sink.Play(ctx, sessionID, s)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
			b.log.Warnf("playback of session %s stopped: %v", sessionID, err)
			return
		}
		b.log.Debugf("playback of session %s finished", sessionID)
	}()
}

// DiscardSink reads and drops every packet. Reading keeps the receiver
// statistics moving.
type DiscardSink struct{}

func (DiscardSink) Play(ctx context.Context, _ string, s signaling.Stream) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.ReadRTP(); err != nil {
			return err
		}
	}
}

// OggSink records Opus streams into Dir, one file per session. Other codecs
// are drained.
type OggSink struct {
	Dir string
}

func (o OggSink) Play(ctx context.Context, sessionID string, s signaling.Stream) error {
	if !strings.EqualFold(s.MimeType(), "audio/opus") {
		return DiscardSink{}.Play(ctx, sessionID, s)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	channels := s.Channels()
	if channels == 0 {
		channels = 1
	}
	w, err := oggwriter.New(filepath.Join(o.Dir, sessionID+".ogg"), s.ClockRate(), channels)
	if err != nil {
		return fmt.Errorf("open ogg writer: %w", err)
	}
	defer w.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkt, err := s.ReadRTP()
		if err != nil {
			return err
		}
		if err := w.WriteRTP(pkt); err != nil {
			return fmt.Errorf("write ogg: %w", err)
		}
	}
}
