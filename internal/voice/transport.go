package voice

import (
	"context"
	"errors"
	"time"
)

// Source yields fixed-size 20ms s16le stereo PCM frames. An empty frame
// signals end of stream.
type Source interface {
	ReadFrame() []byte
}

// Transport is the narrow voice-channel contract the player core drives.
// The production implementation wraps a discordgo voice connection; tests
// substitute a fake.
type Transport interface {
	// Join connects to the given voice channel, replacing any previous
	// connection.
	Join(ctx context.Context, channelID string) error

	// Play starts streaming src and invokes onComplete exactly once when the
	// stream ends or Stop is called. It fails if something is already playing.
	Play(src Source, onComplete func(error)) error

	// Stop halts the active stream, firing its completion callback early.
	Stop()

	Pause()
	Resume()
	IsPlaying() bool
	IsPaused() bool

	// Listeners counts non-bot members in the connected channel.
	Listeners() int

	// AwaitListener blocks until a non-bot member joins the connected
	// channel, the timeout passes, or ctx is done.
	AwaitListener(ctx context.Context, timeout time.Duration) error

	Connected() bool
	Disconnect(force bool) error
}

var (
	ErrNotConnected   = errors.New("not connected to voice")
	ErrAlreadyPlaying = errors.New("already playing")
	ErrNoListener     = errors.New("no listener joined in time")
)
