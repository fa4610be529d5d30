package player

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrBadPlaylist = errors.New("wrong format for imported file")

// PlaylistEntry is the user-facing playlist exchange shape: a flat ordered
// array of these objects.
type PlaylistEntry struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Export serializes the current song (if any) followed by the pending queue.
func (p *Player) Export() ([]byte, error) {
	var entries []PlaylistEntry
	if cur := p.Current(); cur != nil {
		entries = append(entries, PlaylistEntry{Title: cur.Title, URL: cur.URL})
	}
	for _, s := range p.queue.Snapshot() {
		entries = append(entries, PlaylistEntry{Title: s.Title, URL: s.URL})
	}
	if entries == nil {
		entries = []PlaylistEntry{}
	}
	return json.MarshalIndent(entries, "", "    ")
}

// Import validates data as a flat array of {title, url} objects and bulk
// enqueues it attributed to requestorID. A payload that is not such an array
// is rejected with ErrBadPlaylist; one that would push the queue past its cap
// is rejected with ErrQueueFull. Neither rejection mutates anything.
func (p *Player) Import(ctx context.Context, requestorID string, data []byte) (int, error) {
	var entries []PlaylistEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, ErrBadPlaylist
	}
	for _, e := range entries {
		if e.Title == "" || e.URL == "" {
			return 0, ErrBadPlaylist
		}
	}
	if len(entries)+p.queue.Len() > p.cfg.MaxQueueSize {
		return 0, ErrQueueFull
	}

	songs := make([]*Song, len(entries))
	for i, e := range entries {
		songs[i] = NewSong(requestorID, e.Title, e.URL)
	}
	if err := p.queue.EnqueueMany(ctx, songs); err != nil {
		return 0, err
	}
	return len(songs), nil
}
