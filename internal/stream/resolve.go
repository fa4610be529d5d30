package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ytdlp "github.com/lrstanley/go-ytdlp"
)

// targetBitrateKbps is the preferred audio bitrate. Streams at exactly this
// rate are picked first; otherwise the highest-bitrate audio stream wins.
const targetBitrateKbps = 128

type AudioFormat struct {
	URL    string
	ABR    float64 // average audio bitrate, kbps
	ACodec string
}

// TrackInfo is the result of resolving a source URL: the candidate audio
// formats and the track duration in seconds.
type TrackInfo struct {
	Title    string
	Duration float64
	Formats  []AudioFormat
	URL      string // direct top-level URL, when yt-dlp already picked one
}

var installOnce sync.Once

func s(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func f(ptr *float64) float64 {
	if ptr == nil {
		return 0
	}
	return *ptr
}

// ResolveTrack asks yt-dlp for the audio streams behind url.
func ResolveTrack(ctx context.Context, url string) (*TrackInfo, error) {
	installOnce.Do(func() {
		ytdlp.MustInstall(ctx, nil)
	})

	cmd := ytdlp.New().
		Format("bestaudio/best").
		NoCheckCertificates().
		DumpJSON()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp run: %w", err)
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, fmt.Errorf("parse yt-dlp json: no info returned")
	}
	ext := infos[0]

	out := &TrackInfo{
		Title:    s(ext.Title),
		Duration: f(ext.Duration),
		URL:      s(ext.URL),
	}
	for _, fm := range ext.Formats {
		if fm == nil || fm.URL == "" {
			continue
		}
		out.Formats = append(out.Formats, AudioFormat{
			URL:    fm.URL,
			ABR:    f(fm.ABR),
			ACodec: s(fm.ACodec),
		})
	}
	return out, nil
}

// PickAudioURL chooses the stream to play: an audio format at the target
// bitrate if one exists, else the best audio format, else the last listed
// format, else whatever top-level URL yt-dlp reported.
func PickAudioURL(info *TrackInfo) string {
	var best *AudioFormat
	for i := range info.Formats {
		fm := &info.Formats[i]
		if !isAudio(fm) {
			continue
		}
		if int(fm.ABR) == targetBitrateKbps {
			return fm.URL
		}
		if best == nil || fm.ABR > best.ABR {
			best = fm
		}
	}
	if best != nil {
		return best.URL
	}
	if n := len(info.Formats); n > 0 {
		return info.Formats[n-1].URL
	}
	if strings.HasPrefix(info.URL, "http") {
		return info.URL
	}
	return ""
}

func isAudio(fm *AudioFormat) bool {
	return fm.ACodec != "" && fm.ACodec != "none"
}
