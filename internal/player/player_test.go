package player

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hikaribot/hikari/internal/config"
	"github.com/hikaribot/hikari/internal/repository"
	"github.com/hikaribot/hikari/internal/voice"
)

func testConfig() *config.Config {
	return &config.Config{
		BufferFrames:   4,
		MaxQueueSize:   1000,
		SongWait:       150 * time.Millisecond,
		ListenerWait:   50 * time.Millisecond,
		IdleTimeout:    30 * time.Millisecond,
		ConnectTimeout: time.Second,
	}
}

type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	playing    bool
	paused     bool
	listeners  int
	onComplete func(error)

	playCh chan voice.Source
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{playCh: make(chan voice.Source, 4)}
}

func (f *fakeTransport) Join(ctx context.Context, channelID string) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Play(src voice.Source, onComplete func(error)) error {
	f.mu.Lock()
	if f.playing {
		f.mu.Unlock()
		return voice.ErrAlreadyPlaying
	}
	f.playing = true
	f.paused = false
	f.onComplete = onComplete
	f.mu.Unlock()
	f.playCh <- src
	return nil
}

// finish ends the active stream and fires its completion callback, like the
// send loop reaching end of stream.
func (f *fakeTransport) finish(err error) {
	f.mu.Lock()
	cb := f.onComplete
	f.onComplete = nil
	f.playing = false
	f.paused = false
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *fakeTransport) Stop() { f.finish(nil) }

func (f *fakeTransport) Pause() {
	f.mu.Lock()
	if f.playing {
		f.paused = true
	}
	f.mu.Unlock()
}

func (f *fakeTransport) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *fakeTransport) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing && !f.paused
}

func (f *fakeTransport) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing && f.paused
}

func (f *fakeTransport) setListeners(n int) {
	f.mu.Lock()
	f.listeners = n
	f.mu.Unlock()
}

func (f *fakeTransport) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listeners
}

func (f *fakeTransport) AwaitListener(ctx context.Context, timeout time.Duration) error {
	if f.Listeners() > 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return voice.ErrNoListener
	}
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Disconnect(force bool) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

type fakeStream struct {
	mu       sync.Mutex
	vol      float64
	pos      int64
	discards []int
	drained  bool // FastForward finds nothing buffered
	closed   bool
}

func (f *fakeStream) ReadFrame() []byte { return nil }

func (f *fakeStream) Volume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vol
}

func (f *fakeStream) SetVolume(v float64) {
	f.mu.Lock()
	f.vol = v
	f.mu.Unlock()
}

func (f *fakeStream) Position() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *fakeStream) FastForward(n int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards = append(f.discards, n)
	if f.drained {
		return 0
	}
	f.pos += int64(n)
	return f.pos
}

func (f *fakeStream) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeAnnouncer struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeAnnouncer) Announce(channelID, msg string) {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
}

func (f *fakeAnnouncer) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func (f *fakeAnnouncer) contains(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func newTestPlayer(t *testing.T, cfg *config.Config) (*Player, *fakeTransport, *fakeAnnouncer, *repository.Repo) {
	t.Helper()
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "hikari.db"))
	st, err := repo.EnsureGuild(context.Background(), testGuild)
	if err != nil {
		t.Fatalf("ensure guild: %v", err)
	}
	q := NewQueue(repo, testGuild, st.NextIndex, st.Playlist)
	ft := newFakeTransport()
	fa := &fakeAnnouncer{}
	p := NewPlayer(cfg, repo, testGuild, q, ft, fa)
	t.Cleanup(p.Cancel)
	return p, ft, fa, repo
}

// resolveWithFakes substitutes stream resolution with an in-memory stream per
// call and records which songs were resolved.
func resolveWithFakes(p *Player) *resolveLog {
	log := &resolveLog{}
	p.resolve = func(ctx context.Context, s *Song) {
		log.mu.Lock()
		log.songs = append(log.songs, s)
		log.mu.Unlock()
		s.setStream(&fakeStream{vol: s.Volume})
	}
	return log
}

type resolveLog struct {
	mu    sync.Mutex
	songs []*Song
}

func (l *resolveLog) resolved() []*Song {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Song, len(l.songs))
	copy(out, l.songs)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPlayerPlaysQueueInOrder(t *testing.T) {
	p, ft, fa, repo := newTestPlayer(t, testConfig())
	resolveWithFakes(p)
	ft.setListeners(1)
	ctx := context.Background()

	for _, title := range []string{"one", "two"} {
		if err := p.Enqueue(ctx, NewSong("u1", title, "https://x/"+title)); err != nil {
			t.Fatal(err)
		}
	}
	p.Start("text-chan")

	<-ft.playCh
	if cur := p.Current(); cur == nil || cur.Title != "one" {
		t.Fatalf("current = %+v, want one", cur)
	}
	st, err := repo.EnsureGuild(ctx, testGuild)
	if err != nil {
		t.Fatal(err)
	}
	if st.Current == nil || st.Current.Title != "one" {
		t.Fatalf("persisted current = %+v, want one", st.Current)
	}

	ft.finish(nil)
	<-ft.playCh
	waitFor(t, "second song current", func() bool {
		cur := p.Current()
		return cur != nil && cur.Title == "two"
	})

	ft.finish(nil)
	// queue dry: the player waits out SongWait, says goodnight, disconnects
	waitFor(t, "sleep announcement", func() bool { return fa.contains("Time to sleep") })
	waitFor(t, "loop shut down", func() bool { return p.Current() == nil })

	st, err = repo.EnsureGuild(ctx, testGuild)
	if err != nil {
		t.Fatal(err)
	}
	if st.Current != nil {
		t.Fatalf("persisted current = %+v after shutdown, want none", st.Current)
	}
	if !fa.contains("Playing **one**") || !fa.contains("Playing **two**") {
		t.Fatalf("missing playing announcements: %v", fa.all())
	}
}

func TestPlayerRepeatReplaysSameSong(t *testing.T) {
	p, ft, fa, _ := newTestPlayer(t, testConfig())
	log := resolveWithFakes(p)
	ft.setListeners(1)
	ctx := context.Background()

	if err := p.Enqueue(ctx, NewSong("u1", "loop me", "https://x/l")); err != nil {
		t.Fatal(err)
	}
	if !p.ToggleRepeat() {
		t.Fatal("repeat should be on")
	}
	p.Start("text-chan")

	<-ft.playCh
	first := p.Current()
	ft.finish(nil)

	<-ft.playCh
	if p.Current() != first {
		t.Fatal("repeat replaced the current song")
	}
	resolved := log.resolved()
	if len(resolved) != 2 || resolved[0] != resolved[1] {
		t.Fatalf("expected the same song resolved twice, got %d resolutions", len(resolved))
	}

	p.ToggleRepeat()
	ft.finish(nil)
	waitFor(t, "sleep announcement", func() bool { return fa.contains("Time to sleep") })
}

func TestPlayerSkipClearsCurrent(t *testing.T) {
	p, ft, _, _ := newTestPlayer(t, testConfig())
	resolveWithFakes(p)
	ft.setListeners(1)
	ctx := context.Background()

	// skip with nothing playing is a no-op
	if err := p.Skip(ctx); err != nil {
		t.Fatalf("idle skip: %v", err)
	}

	if err := p.Enqueue(ctx, NewSong("u1", "skipped", "https://x/s")); err != nil {
		t.Fatal(err)
	}
	if !p.ToggleRepeat() {
		t.Fatal("repeat should be on")
	}
	p.Start("text-chan")

	<-ft.playCh
	if err := p.Skip(ctx); err != nil {
		t.Fatalf("skip: %v", err)
	}
	// even with repeat on, a skipped song must not come back
	waitFor(t, "current cleared", func() bool { return p.Current() == nil })
}

func TestPlayerSkipClosesStreamInRepeatMode(t *testing.T) {
	p, ft, _, _ := newTestPlayer(t, testConfig())
	resolveWithFakes(p)
	ft.setListeners(1)
	ctx := context.Background()

	if err := p.Enqueue(ctx, NewSong("u1", "looping", "https://x/l")); err != nil {
		t.Fatal(err)
	}
	if !p.ToggleRepeat() {
		t.Fatal("repeat should be on")
	}
	p.Start("text-chan")

	src := <-ft.playCh
	fs := src.(*fakeStream)
	if err := p.Skip(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "current cleared", func() bool { return p.Current() == nil })
	// the skipped song never plays again; its decoder must be released
	waitFor(t, "skipped stream closed", func() bool { return fs.isClosed() })
}

func TestPlayerCancelClosesStream(t *testing.T) {
	p, ft, _, _ := newTestPlayer(t, testConfig())
	resolveWithFakes(p)
	ft.setListeners(1)
	ctx := context.Background()

	if err := p.Enqueue(ctx, NewSong("u1", "interrupted", "https://x/i")); err != nil {
		t.Fatal(err)
	}
	p.Start("text-chan")

	src := <-ft.playCh
	fs := src.(*fakeStream)
	p.Cancel()
	waitFor(t, "stream closed on shutdown", func() bool { return fs.isClosed() })
}

func TestPlayerUnavailableSongIsAnnouncedAndDropped(t *testing.T) {
	p, ft, fa, _ := newTestPlayer(t, testConfig())
	ft.setListeners(1)
	ctx := context.Background()

	// first song fails to resolve, second succeeds
	p.resolve = func(ctx context.Context, s *Song) {
		if s.Title != "broken" {
			s.setStream(&fakeStream{vol: s.Volume})
		}
	}
	if err := p.Enqueue(ctx, NewSong("u1", "broken", "https://x/b")); err != nil {
		t.Fatal(err)
	}
	if err := p.Enqueue(ctx, NewSong("u1", "fine", "https://x/f")); err != nil {
		t.Fatal(err)
	}
	p.Start("text-chan")

	<-ft.playCh
	if cur := p.Current(); cur == nil || cur.Title != "fine" {
		t.Fatalf("current = %+v, want fine", cur)
	}
	if !fa.contains("**broken** is not available.") {
		t.Fatalf("missing unavailable announcement: %v", fa.all())
	}
}

func TestPlayerSleepsWhenNobodyListens(t *testing.T) {
	p, ft, fa, _ := newTestPlayer(t, testConfig())
	resolveWithFakes(p)
	ft.setListeners(0)
	ctx := context.Background()

	if err := p.Enqueue(ctx, NewSong("u1", "lonely", "https://x/l")); err != nil {
		t.Fatal(err)
	}
	p.Start("text-chan")

	<-ft.playCh
	ft.finish(nil)
	waitFor(t, "listener-wait announcement", func() bool {
		return fa.contains("anybody's listening")
	})
	waitFor(t, "disconnect", func() bool { return !ft.Connected() })
}

func TestSetVolume(t *testing.T) {
	p, _, _, _ := newTestPlayer(t, testConfig())

	if err := p.SetVolume(50); !errors.Is(err, ErrNoCurrentSong) {
		t.Fatalf("err = %v, want ErrNoCurrentSong", err)
	}

	song := NewSong("u1", "loud", "https://x/l")
	str := &fakeStream{vol: 1.0}
	song.setStream(str)
	p.setCurrent(song)

	for _, bad := range []int{-1, 201} {
		if err := p.SetVolume(bad); !errors.Is(err, ErrVolumeRange) {
			t.Fatalf("SetVolume(%d) err = %v, want ErrVolumeRange", bad, err)
		}
	}
	if str.Volume() != 1.0 {
		t.Fatal("rejected volume change touched the stream")
	}

	if err := p.SetVolume(150); err != nil {
		t.Fatal(err)
	}
	if song.Volume != 1.5 {
		t.Fatalf("song volume = %v, want 1.5", song.Volume)
	}
	if str.Volume() != 1.5 {
		t.Fatalf("stream volume = %v, want 1.5", str.Volume())
	}
}

func TestFastForward(t *testing.T) {
	p, ft, _, _ := newTestPlayer(t, testConfig())

	if _, _, err := p.FastForward(5); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("err = %v, want ErrNotPlaying", err)
	}

	song := NewSong("u1", "seek me", "https://x/s")
	str := &fakeStream{pos: 100} // 2 seconds in
	song.setStream(str)
	p.setCurrent(song)
	ft.mu.Lock()
	ft.playing = true
	ft.mu.Unlock()

	for _, bad := range []int{0, 60} {
		if _, _, err := p.FastForward(bad); !errors.Is(err, ErrSeekRange) {
			t.Fatalf("FastForward(%d) err = %v, want ErrSeekRange", bad, err)
		}
	}
	if len(str.discards) != 0 {
		t.Fatal("rejected seek touched the buffer")
	}

	before, after, err := p.FastForward(3)
	if err != nil {
		t.Fatal(err)
	}
	if before != "00:00:02" || after != "00:00:05" {
		t.Fatalf("before/after = %q/%q, want 00:00:02/00:00:05", before, after)
	}
	if len(str.discards) != 1 || str.discards[0] != 150 {
		t.Fatalf("discards = %v, want [150]", str.discards)
	}
}

func TestFastForwardDrainedBufferDoesNotGoBackwards(t *testing.T) {
	p, ft, _, _ := newTestPlayer(t, testConfig())

	song := NewSong("u1", "almost over", "https://x/a")
	str := &fakeStream{pos: 100, drained: true} // 2 seconds in, nothing buffered
	song.setStream(str)
	p.setCurrent(song)
	ft.mu.Lock()
	ft.playing = true
	ft.mu.Unlock()

	before, after, err := p.FastForward(5)
	if err != nil {
		t.Fatal(err)
	}
	if before != "00:00:02" || after != "00:00:02" {
		t.Fatalf("before/after = %q/%q, want both 00:00:02", before, after)
	}
}

func TestToggle(t *testing.T) {
	p, ft, _, _ := newTestPlayer(t, testConfig())

	if _, err := p.Toggle(); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("err = %v, want ErrNotPlaying", err)
	}

	ft.mu.Lock()
	ft.playing = true
	ft.mu.Unlock()

	paused, err := p.Toggle()
	if err != nil || !paused {
		t.Fatalf("toggle = %v, %v, want paused", paused, err)
	}
	paused, err = p.Toggle()
	if err != nil || paused {
		t.Fatalf("toggle = %v, %v, want resumed", paused, err)
	}
}
