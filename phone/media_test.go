package phone

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscardSinkDrainsStream(t *testing.T) {
	s := &fakeStream{mime: "audio/opus", packets: 5}
	err := DiscardSink{}.Play(context.Background(), "s1", s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 5, s.consumed())
}

func TestDiscardSinkStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeStream{mime: "audio/opus", packets: 5}
	err := DiscardSink{}.Play(ctx, "s1", s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.consumed())
}

func TestOggSinkRecordsOpus(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "calls")
	s := &fakeStream{mime: "audio/opus", packets: 10}

	err := OggSink{Dir: dir}.Play(context.Background(), "call-1", s)
	assert.ErrorIs(t, err, io.EOF)

	info, err := os.Stat(filepath.Join(dir, "call-1.ogg"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestOggSinkDrainsOtherCodecs(t *testing.T) {
	dir := t.TempDir()
	s := &fakeStream{mime: "audio/PCMU", packets: 3}

	err := OggSink{Dir: dir}.Play(context.Background(), "call-1", s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, s.consumed())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
