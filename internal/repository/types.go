package repository

import "database/sql"

type Repo struct {
	db *sql.DB
}

// SongRecord is the persisted shape of one queued song.
type SongRecord struct {
	Index       int64
	RequestorID string
	Title       string
	URL         string
}

// GuildState is the persisted per-guild queue document: the index counter,
// the pending playlist in queue order, and the song that was playing when the
// process last ran (if any).
type GuildState struct {
	GuildID   string
	NextIndex int64
	Playlist  []SongRecord
	Current   *SongRecord
}
