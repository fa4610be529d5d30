package stream

import "testing"

func TestPickAudioURLPrefersTargetBitrate(t *testing.T) {
	info := &TrackInfo{Formats: []AudioFormat{
		{URL: "https://x/low", ABR: 64, ACodec: "opus"},
		{URL: "https://x/target", ABR: 128, ACodec: "opus"},
		{URL: "https://x/high", ABR: 256, ACodec: "opus"},
	}}
	if got := PickAudioURL(info); got != "https://x/target" {
		t.Fatalf("got %q, want the 128k stream", got)
	}
}

func TestPickAudioURLFallsBackToBestAudio(t *testing.T) {
	info := &TrackInfo{Formats: []AudioFormat{
		{URL: "https://x/low", ABR: 48, ACodec: "opus"},
		{URL: "https://x/high", ABR: 160, ACodec: "mp4a.40.2"},
		{URL: "https://x/video", ABR: 0, ACodec: "none"},
	}}
	if got := PickAudioURL(info); got != "https://x/high" {
		t.Fatalf("got %q, want the highest-bitrate audio stream", got)
	}
}

func TestPickAudioURLFallsBackToLastFormat(t *testing.T) {
	info := &TrackInfo{Formats: []AudioFormat{
		{URL: "https://x/a", ACodec: "none"},
		{URL: "https://x/b", ACodec: "none"},
	}}
	if got := PickAudioURL(info); got != "https://x/b" {
		t.Fatalf("got %q, want the last listed format", got)
	}
}

func TestPickAudioURLFallsBackToTopLevelURL(t *testing.T) {
	info := &TrackInfo{URL: "https://x/direct"}
	if got := PickAudioURL(info); got != "https://x/direct" {
		t.Fatalf("got %q, want the top-level url", got)
	}

	if got := PickAudioURL(&TrackInfo{URL: "not-a-url"}); got != "" {
		t.Fatalf("got %q for an unusable track, want empty", got)
	}
}
