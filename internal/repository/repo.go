package repository

import (
	"context"
	"database/sql"
	"fmt"
)

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// EnsureGuild creates the guild row on first access and returns the full
// persisted queue state, pending songs in queue order.
func (r *Repo) EnsureGuild(ctx context.Context, guildID string) (*GuildState, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO guilds(guild_id, next_index) VALUES (?, 0)`, guildID,
	); err != nil {
		return nil, fmt.Errorf("upsert guild: %w", err)
	}

	st := &GuildState{GuildID: guildID}
	row := r.db.QueryRowContext(ctx, `
		SELECT next_index, current_idx, current_requestor_id, current_title, current_url
		FROM guilds WHERE guild_id = ?`, guildID)

	var curIdx sql.NullInt64
	var curReq, curTitle, curURL sql.NullString
	if err := row.Scan(&st.NextIndex, &curIdx, &curReq, &curTitle, &curURL); err != nil {
		return nil, fmt.Errorf("load guild: %w", err)
	}
	if curIdx.Valid {
		st.Current = &SongRecord{
			Index:       curIdx.Int64,
			RequestorID: curReq.String,
			Title:       curTitle.String,
			URL:         curURL.String,
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, COALESCE(requestor_id, ''), title, url
		FROM queue_songs WHERE guild_id = ? ORDER BY idx ASC`, guildID)
	if err != nil {
		return nil, fmt.Errorf("load playlist: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec SongRecord
		if err := rows.Scan(&rec.Index, &rec.RequestorID, &rec.Title, &rec.URL); err != nil {
			return nil, err
		}
		st.Playlist = append(st.Playlist, rec)
	}
	return st, rows.Err()
}

// AppendSongs appends the records and advances next_index in one transaction.
func (r *Repo) AppendSongs(ctx context.Context, guildID string, recs []SongRecord, nextIndex int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO queue_songs(guild_id, idx, requestor_id, title, url) VALUES (?,?,?,?,?)`,
			guildID, rec.Index, nullable(rec.RequestorID), rec.Title, rec.URL,
		); err != nil {
			return fmt.Errorf("append song: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE guilds SET next_index = ? WHERE guild_id = ?`, nextIndex, guildID,
	); err != nil {
		return fmt.Errorf("advance index: %w", err)
	}
	return tx.Commit()
}

// PopHead removes the head record from the persisted playlist and records it
// as the guild's current song, atomically.
func (r *Repo) PopHead(ctx context.Context, guildID string, head SongRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM queue_songs WHERE guild_id = ? AND idx = ?`, guildID, head.Index,
	); err != nil {
		return fmt.Errorf("pop head: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE guilds SET current_idx = ?, current_requestor_id = ?, current_title = ?, current_url = ?
		WHERE guild_id = ?`,
		head.Index, nullable(head.RequestorID), head.Title, head.URL, guildID,
	); err != nil {
		return fmt.Errorf("record current: %w", err)
	}
	return tx.Commit()
}

// SetCurrent records cur as the guild's current song; nil clears it.
func (r *Repo) SetCurrent(ctx context.Context, guildID string, cur *SongRecord) error {
	if cur == nil {
		_, err := r.db.ExecContext(ctx, `
			UPDATE guilds SET current_idx = NULL, current_requestor_id = NULL,
			current_title = NULL, current_url = NULL WHERE guild_id = ?`, guildID)
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE guilds SET current_idx = ?, current_requestor_id = ?, current_title = ?, current_url = ?
		WHERE guild_id = ?`,
		cur.Index, nullable(cur.RequestorID), cur.Title, cur.URL, guildID)
	return err
}

// DeleteSong removes one record by its unique queue index.
func (r *Repo) DeleteSong(ctx context.Context, guildID string, idx int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM queue_songs WHERE guild_id = ? AND idx = ?`, guildID, idx)
	return err
}

// PurgeSongs clears the persisted playlist. The index counter is kept so
// indices are never reused.
func (r *Repo) PurgeSongs(ctx context.Context, guildID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM queue_songs WHERE guild_id = ?`, guildID)
	return err
}

// ListSongs returns the persisted playlist in queue order. Used by tests and
// by the registry when seeding a player.
func (r *Repo) ListSongs(ctx context.Context, guildID string) ([]SongRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, COALESCE(requestor_id, ''), title, url
		FROM queue_songs WHERE guild_id = ? ORDER BY idx ASC`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SongRecord
	for rows.Next() {
		var rec SongRecord
		if err := rows.Scan(&rec.Index, &rec.RequestorID, &rec.Title, &rec.URL); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
