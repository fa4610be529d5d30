package player

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hikaribot/hikari/internal/repository"
	"github.com/hikaribot/hikari/internal/stream"
	"github.com/hikaribot/hikari/internal/utils"
)

// PlayableStream is a resolved, volume-scalable audio stream. The production
// implementation is stream.VolumeStream over an ffmpeg-backed reader.
type PlayableStream interface {
	// ReadFrame yields 20ms PCM frames; an empty frame is end of stream.
	ReadFrame() []byte
	Volume() float64
	SetVolume(v float64)
	// Position is the frame counter of the last frame read.
	Position() int64
	// FastForward discards up to n buffered frames and returns the counter
	// of the last one discarded.
	FastForward(n int) int64
	Close()
}

// Song is one queued track. It is owned by the queue while pending and by the
// player as "current song" while playing. The playable stream is resolved
// lazily, right before playback.
type Song struct {
	RequestorID string
	Title       string
	URL         string
	Volume      float64 // 0.0 - 2.0, default 1.0
	Index       int64
	Duration    string // HH:MM:SS

	mu  sync.Mutex
	str PlayableStream
}

func NewSong(requestorID, title, url string) *Song {
	return &Song{
		RequestorID: requestorID,
		Title:       utils.EscapeMd(title),
		URL:         url,
		Volume:      1.0,
		Duration:    "00:00:00",
	}
}

func songFromRecord(rec repository.SongRecord) *Song {
	s := NewSong(rec.RequestorID, rec.Title, rec.URL)
	// title was escaped before persisting
	s.Title = rec.Title
	s.Index = rec.Index
	return s
}

func (s *Song) record() repository.SongRecord {
	return repository.SongRecord{
		Index:       s.Index,
		RequestorID: s.RequestorID,
		Title:       s.Title,
		URL:         s.URL,
	}
}

// Resolve turns the source URL into a playable volume-scaled stream. A
// failure leaves the stream nil; callers treat that as "song unavailable",
// never as a fatal error.
func (s *Song) Resolve(ctx context.Context, bufFrames int) {
	info, err := stream.ResolveTrack(ctx, s.URL)
	if err != nil {
		slog.Warn("resolve failed", "url", s.URL, "err", err)
		return
	}
	audioURL := stream.PickAudioURL(info)
	if audioURL == "" {
		slog.Warn("no playable stream", "url", s.URL)
		return
	}
	s.Duration = utils.FormatHMS(int(info.Duration))

	r, err := stream.NewReader(ctx, audioURL, bufFrames)
	if err != nil {
		slog.Warn("decoder start failed", "url", s.URL, "err", err)
		return
	}
	s.setStream(stream.NewVolumeStream(r, s.Volume))
}

func (s *Song) setStream(str PlayableStream) {
	s.mu.Lock()
	s.str = str
	s.mu.Unlock()
}

// Stream returns the resolved playable stream, or nil when the song is
// unresolved or unavailable.
func (s *Song) Stream() PlayableStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.str
}

func (s *Song) clearStream() {
	s.mu.Lock()
	str := s.str
	s.str = nil
	s.mu.Unlock()
	if str != nil {
		str.Close()
	}
}

// ElapsedSeconds derives playback position from the frame counter; one frame
// is 20ms.
func (s *Song) ElapsedSeconds() int {
	str := s.Stream()
	if str == nil {
		return 0
	}
	return int(float64(str.Position()) * stream.FrameDuration)
}

// Info is "title (elapsed / duration)".
func (s *Song) Info() string {
	return s.Title + " (" + utils.FormatHMS(s.ElapsedSeconds()) + " / " + s.Duration + ")"
}
