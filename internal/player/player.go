package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hikaribot/hikari/internal/config"
	"github.com/hikaribot/hikari/internal/repository"
	"github.com/hikaribot/hikari/internal/stream"
	"github.com/hikaribot/hikari/internal/utils"
	"github.com/hikaribot/hikari/internal/voice"
)

var (
	ErrNoCurrentSong    = errors.New("no song is currently playing")
	ErrNotPlaying       = errors.New("nothing is playing right now")
	ErrVolumeRange      = errors.New("volume must be between 0 and 200")
	ErrSeekRange        = errors.New("fast forward time must be between 1 and 59 seconds")
	ErrQueueFull        = errors.New("too many entries")
	ErrAlreadyConnected = errors.New("already in a voice channel")
)

// Announcer delivers one-line notifications to a text channel.
type Announcer interface {
	Announce(channelID, msg string)
}

// Player is the per-guild orchestrator: it pulls songs from the durable
// queue, resolves their streams, and drives the voice transport until the
// queue runs dry or nobody is listening. Side operations (skip, volume,
// seek, repeat) are called concurrently from command handlers.
type Player struct {
	cfg       *config.Config
	guildID   string
	repo      *repository.Repo
	queue     *Queue
	transport voice.Transport
	announcer Announcer
	idle      *idleDeadline

	// connMu serializes join/leave commands with the loop's own
	// disconnect-on-idle path.
	connMu sync.Mutex

	mu        sync.Mutex
	current   *Song
	repeat    bool
	channelID string // announce channel; empty until the bot joins voice
	autoInfo  bool
	cancel    context.CancelFunc

	// resolve is a seam for tests; defaults to Song.Resolve.
	resolve func(ctx context.Context, s *Song)
}

func NewPlayer(cfg *config.Config, repo *repository.Repo, guildID string, q *Queue, t voice.Transport, a Announcer) *Player {
	p := &Player{
		cfg:       cfg,
		guildID:   guildID,
		repo:      repo,
		queue:     q,
		transport: t,
		announcer: a,
		idle:      newIdleDeadline(),
	}
	p.resolve = func(ctx context.Context, s *Song) { s.Resolve(ctx, cfg.BufferFrames) }
	return p
}

func (p *Player) GuildID() string            { return p.guildID }
func (p *Player) Queue() *Queue              { return p.queue }
func (p *Player) Transport() voice.Transport { return p.transport }

func (p *Player) Current() *Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Player) setCurrent(s *Song) {
	p.mu.Lock()
	p.current = s
	p.mu.Unlock()
}

// clearCurrent drops the current song and persists the cleared state. The
// write is shielded from caller cancellation so storage never lags memory.
func (p *Player) clearCurrent(ctx context.Context) error {
	p.setCurrent(nil)
	if err := p.repo.SetCurrent(context.WithoutCancel(ctx), p.guildID, nil); err != nil {
		return fmt.Errorf("persist current song: %w", err)
	}
	return nil
}

func (p *Player) Repeat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeat
}

// ToggleRepeat flips repeat mode and reports the new state.
func (p *Player) ToggleRepeat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repeat = !p.repeat
	return p.repeat
}

func (p *Player) AutoInfo() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoInfo
}

func (p *Player) SetAutoInfo(on bool) {
	p.mu.Lock()
	p.autoInfo = on
	p.mu.Unlock()
}

func (p *Player) AnnounceChannel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channelID
}

func (p *Player) SetAnnounceChannel(channelID string) {
	p.mu.Lock()
	p.channelID = channelID
	p.mu.Unlock()
}

func (p *Player) say(msg string) {
	p.mu.Lock()
	ch := p.channelID
	p.mu.Unlock()
	if ch == "" || p.announcer == nil {
		return
	}
	p.announcer.Announce(ch, msg)
}

// Enqueue adds one song, rejecting it before any mutation if the queue would
// exceed its cap.
func (p *Player) Enqueue(ctx context.Context, song *Song) error {
	if p.queue.Len()+1 > p.cfg.MaxQueueSize {
		return ErrQueueFull
	}
	return p.queue.Enqueue(ctx, song)
}

// Join connects to a voice channel and starts the orchestration loop,
// announcing into textChannelID.
func (p *Player) Join(ctx context.Context, voiceChannelID, textChannelID string) error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.transport.Connected() {
		return ErrAlreadyConnected
	}
	jctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()
	if err := p.transport.Join(jctx, voiceChannelID); err != nil {
		return err
	}
	p.Start(textChannelID)
	return nil
}

// Start launches the orchestration loop if it is not already running.
func (p *Player) Start(textChannelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	p.channelID = textChannelID
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
}

// Cancel stops the orchestration loop, if any, and expires the idle deadline
// so the registry evicts this player.
func (p *Player) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.idle.Expire()
}

// Leave disables repeat and force-disconnects the voice transport.
func (p *Player) Leave() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	return p.leaveLocked()
}

func (p *Player) leaveLocked() error {
	p.mu.Lock()
	p.repeat = false
	p.mu.Unlock()
	return p.transport.Disconnect(true)
}

// Skip clears the current song so repeat mode does not bring it back, then
// stops the active stream, which fires its completion callback early.
func (p *Player) Skip(ctx context.Context) error {
	if !p.transport.IsPlaying() {
		return nil
	}
	// clear before stopping: the loop observes the completion and must
	// already see the song as skipped
	if err := p.clearCurrent(ctx); err != nil {
		return err
	}
	p.transport.Stop()
	return nil
}

// Toggle pauses a playing stream or resumes a paused one. It reports whether
// playback is now paused.
func (p *Player) Toggle() (bool, error) {
	switch {
	case p.transport.IsPaused():
		p.transport.Resume()
		return false, nil
	case p.transport.IsPlaying():
		p.transport.Pause()
		return true, nil
	default:
		return false, ErrNotPlaying
	}
}

// SetVolume updates the current song's volume and the live playback
// multiplier. vol is the user-facing 0-200 percent scale.
func (p *Player) SetVolume(vol int) error {
	if vol < 0 || vol > 200 {
		return ErrVolumeRange
	}
	cur := p.Current()
	if cur == nil {
		return ErrNoCurrentSong
	}
	cur.Volume = float64(vol) / 100
	if str := cur.Stream(); str != nil {
		str.SetVolume(cur.Volume)
	}
	return nil
}

// FastForward discards the given number of seconds of buffered audio from
// the active stream and reports the elapsed time before and after. Only
// valid while actively playing; rejects amounts outside [1,59] seconds
// without touching the buffer.
func (p *Player) FastForward(seconds int) (before, after string, err error) {
	cur := p.Current()
	if cur == nil || cur.Stream() == nil || !p.transport.IsPlaying() {
		return "", "", ErrNotPlaying
	}
	if seconds < 1 || seconds > 59 {
		return "", "", ErrSeekRange
	}
	beforeSec := cur.ElapsedSeconds()
	counter := cur.Stream().FastForward(seconds * 50)
	afterSec := int(float64(counter) * stream.FrameDuration)
	// a nearly drained buffer may discard little or nothing; never report
	// moving backwards
	if afterSec < beforeSec {
		afterSec = beforeSec
	}
	return utils.FormatHMS(beforeSec), utils.FormatHMS(afterSec), nil
}

// Status describes the transport state for queue displays.
func (p *Player) Status() string {
	switch {
	case p.transport.IsPlaying():
		return "Playing"
	case p.transport.IsPaused():
		return "Paused"
	default:
		return "Stopped"
	}
}

// run is the orchestration loop: one long-lived goroutine per guild session.
func (p *Player) run(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.mu.Unlock()

		if c := p.Current(); c != nil {
			c.clearStream()
		}

		p.idle.Expire()
		p.connMu.Lock()
		if err := p.leaveLocked(); err != nil && !errors.Is(err, voice.ErrNotConnected) {
			slog.Warn("voice disconnect", "guildID", p.guildID, "err", err)
		}
		p.connMu.Unlock()
	}()

	p.idle.Disarm()

	for {
		cur := p.Current()
		if cur == nil {
			dctx, cancel := context.WithTimeout(ctx, p.cfg.SongWait)
			song, err := p.queue.Dequeue(dctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, context.DeadlineExceeded) {
					p.say("No music? Time to sleep then. Yaaawwnnnn~~")
					return
				}
				slog.Error("dequeue", "guildID", p.guildID, "err", err)
				p.say("The queue is broken. Going to sleep.")
				return
			}
			p.setCurrent(song)
			cur = song
		}

		// A fresh stream every iteration: repeat replays the same Song but
		// resolution is redone, matching the lazy-resolution contract.
		cur.clearStream()
		p.resolve(ctx, cur)
		if ctx.Err() != nil {
			return
		}

		if cur.Stream() == nil {
			p.say(fmt.Sprintf("**%s** is not available.", cur.Title))
			if err := p.clearCurrent(ctx); err != nil {
				slog.Error("clear current song", "guildID", p.guildID, "err", err)
				return
			}
		} else {
			done := make(chan error, 1)
			if err := p.transport.Play(cur.Stream(), func(err error) { done <- err }); err != nil {
				slog.Error("start playback", "guildID", p.guildID, "err", err)
				p.say(fmt.Sprintf("Could not play **%s**. Going to sleep.", cur.Title))
				return
			}
			p.say(fmt.Sprintf("Playing **%s** requested by %s.", cur.Title, requestorMention(cur)))
			if p.AutoInfo() {
				p.say(cur.Info())
			}

			select {
			case err := <-done:
				if err != nil {
					slog.Warn("playback ended with error", "guildID", p.guildID, "title", cur.Title, "err", err)
				}
			case <-ctx.Done():
				p.transport.Stop()
				cur.clearStream()
				return
			}

			// A skip clears the current song mid-play; its stream still has
			// to be released even in repeat mode.
			if !p.Repeat() || p.Current() != cur {
				cur.clearStream()
				if p.Current() == cur {
					if err := p.clearCurrent(ctx); err != nil {
						slog.Error("clear current song", "guildID", p.guildID, "err", err)
						return
					}
				}
			}
		}

		if p.transport.Listeners() == 0 {
			if err := p.transport.AwaitListener(ctx, p.cfg.ListenerWait); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.say("Heeey, anybody's listening? No? Then I'll go to sleep.")
				return
			}
		}
	}
}

func requestorMention(s *Song) string {
	if s.RequestorID == "" {
		return "<User left server>"
	}
	return "<@" + s.RequestorID + ">"
}
