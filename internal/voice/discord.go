package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"
)

const (
	sampleRate = 48000
	channels   = 2
	frameSize  = 960 // samples per channel per 20ms frame
)

// DiscordTransport drives playback over a discordgo voice connection. PCM
// frames from the Source are Opus-encoded and paced onto OpusSend at 20ms.
type DiscordTransport struct {
	s       *discordgo.Session
	guildID string

	mu        sync.Mutex
	vc        *discordgo.VoiceConnection
	channelID string
	playing   bool
	paused    bool
	stopCh    chan struct{}
	stopOnce  *sync.Once
}

func NewDiscordTransport(s *discordgo.Session, guildID string) *DiscordTransport {
	return &DiscordTransport{s: s, guildID: guildID}
}

func (t *DiscordTransport) Join(ctx context.Context, channelID string) error {
	t.mu.Lock()
	if t.vc != nil && t.channelID == channelID {
		t.mu.Unlock()
		return nil
	}
	old := t.vc
	t.vc = nil
	t.channelID = ""
	t.mu.Unlock()

	if old != nil {
		_ = old.Speaking(false)
		_ = old.Disconnect()
	}

	// ChannelVoiceJoin blocks with its own internal timeout; the caller's
	// deadline is enforced around it.
	type joinResult struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	res := make(chan joinResult, 1)
	go func() {
		vc, err := t.s.ChannelVoiceJoin(t.guildID, channelID, false, true)
		res <- joinResult{vc, err}
	}()

	var vc *discordgo.VoiceConnection
	select {
	case r := <-res:
		if r.err != nil {
			return fmt.Errorf("voice join: %w", r.err)
		}
		vc = r.vc
	case <-ctx.Done():
		// a late success still holds a gateway session; drop it
		go func() {
			if r := <-res; r.err == nil && r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return fmt.Errorf("voice join: %w", ctx.Err())
	}
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}

	t.mu.Lock()
	t.vc = vc
	t.channelID = channelID
	t.mu.Unlock()
	return nil
}

func (t *DiscordTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vc != nil
}

func (t *DiscordTransport) Play(src Source, onComplete func(error)) error {
	t.mu.Lock()
	if t.vc == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	if t.playing {
		t.mu.Unlock()
		return ErrAlreadyPlaying
	}
	vc := t.vc
	stopCh := make(chan struct{})
	t.stopCh = stopCh
	t.stopOnce = &sync.Once{}
	t.playing = true
	t.paused = false
	t.mu.Unlock()

	go t.sendLoop(vc, src, stopCh, onComplete)
	return nil
}

func (t *DiscordTransport) sendLoop(vc *discordgo.VoiceConnection, src Source, stopCh chan struct{}, onComplete func(error)) {
	var playErr error
	defer func() {
		_ = vc.Speaking(false)
		t.mu.Lock()
		t.playing = false
		t.paused = false
		t.mu.Unlock()
		onComplete(playErr)
	}()

	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		playErr = fmt.Errorf("opus encoder: %w", err)
		return
	}
	enc.SetBitrate(160000)

	_ = vc.Speaking(true)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	shorts := make([]int16, frameSize*channels)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if t.IsPaused() {
			select {
			case <-stopCh:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		frame := src.ReadFrame()
		if len(frame) == 0 {
			return
		}
		if len(frame) != frameSize*channels*2 {
			playErr = fmt.Errorf("bad frame size %d", len(frame))
			return
		}
		for i := 0; i < len(shorts); i++ {
			j := i * 2
			shorts[i] = int16(frame[j]) | int16(int8(frame[j+1]))<<8
		}
		pkt, err := enc.Encode(shorts, frameSize, 4000)
		if err != nil {
			playErr = fmt.Errorf("opus encode: %w", err)
			return
		}

		if !t.sendPacket(ticker.C, vc.OpusSend, pkt, stopCh) {
			return
		}
	}
}

// sendPacket paces one opus packet onto the voice send channel. A stalled
// channel drops nothing: the same packet is retried on the next tick until it
// is accepted or playback stops. Reports false when stopped.
func (t *DiscordTransport) sendPacket(tick <-chan time.Time, send chan<- []byte, pkt []byte, stopCh <-chan struct{}) bool {
	for {
		select {
		case <-tick:
		case <-stopCh:
			return false
		}
		select {
		case send <- pkt:
			return true
		case <-stopCh:
			return false
		case <-time.After(200 * time.Millisecond):
			slog.Debug("opus send stalled", "guildID", t.guildID)
		}
	}
}

func (t *DiscordTransport) Stop() {
	t.mu.Lock()
	stopCh, once := t.stopCh, t.stopOnce
	t.mu.Unlock()
	if stopCh == nil || once == nil {
		return
	}
	once.Do(func() { close(stopCh) })
}

func (t *DiscordTransport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.playing {
		t.paused = true
	}
}

func (t *DiscordTransport) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

func (t *DiscordTransport) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing && !t.paused
}

func (t *DiscordTransport) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *DiscordTransport) Listeners() int {
	t.mu.Lock()
	chID := t.channelID
	t.mu.Unlock()
	if chID == "" {
		return 0
	}
	g, _ := t.s.State.Guild(t.guildID)
	if g == nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != chID {
			continue
		}
		m, _ := t.s.State.Member(t.guildID, vs.UserID)
		if m != nil && m.User != nil && !m.User.Bot {
			n++
		}
	}
	return n
}

func (t *DiscordTransport) AwaitListener(ctx context.Context, timeout time.Duration) error {
	t.mu.Lock()
	chID := t.channelID
	t.mu.Unlock()
	if chID == "" {
		return ErrNotConnected
	}

	joined := make(chan struct{}, 1)
	remove := t.s.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		if vs.GuildID != t.guildID || vs.ChannelID != chID {
			return
		}
		m, _ := s.State.Member(t.guildID, vs.UserID)
		if m != nil && m.User != nil && !m.User.Bot {
			select {
			case joined <- struct{}{}:
			default:
			}
		}
	})
	defer remove()

	// someone may have joined between the check and the subscription
	if t.Listeners() > 0 {
		return nil
	}

	select {
	case <-joined:
		return nil
	case <-time.After(timeout):
		return ErrNoListener
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *DiscordTransport) Disconnect(force bool) error {
	t.Stop()

	t.mu.Lock()
	vc := t.vc
	t.vc = nil
	t.channelID = ""
	t.mu.Unlock()

	if vc == nil {
		if force {
			return nil
		}
		return ErrNotConnected
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("voice disconnect panic recovered", "panic", r, "guildID", t.guildID)
				done <- nil
			}
		}()
		_ = vc.Speaking(false)
		done <- vc.Disconnect()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		return fmt.Errorf("voice disconnect timed out")
	}
}
