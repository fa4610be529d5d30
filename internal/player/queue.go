package player

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hikaribot/hikari/internal/repository"
)

var ErrPositionOutOfRange = errors.New("position out of range")

// Queue is the per-guild durable FIFO of songs. Every mutation is mirrored to
// storage before it is committed in memory, so the persisted state always
// matches what callers observed. All mutations serialize through one lock.
type Queue struct {
	repo    *repository.Repo
	guildID string

	mu       sync.Mutex
	notEmpty *sync.Cond
	songs    []*Song
	next     int64
}

func NewQueue(repo *repository.Repo, guildID string, nextIndex int64, initial []repository.SongRecord) *Queue {
	q := &Queue{repo: repo, guildID: guildID, next: nextIndex}
	q.notEmpty = sync.NewCond(&q.mu)
	for _, rec := range initial {
		q.songs = append(q.songs, songFromRecord(rec))
	}
	return q
}

// Enqueue assigns the song the next index, persists the append, and commits
// it to the in-memory queue, waking one blocked Dequeue.
func (q *Queue) Enqueue(ctx context.Context, song *Song) error {
	return q.EnqueueMany(ctx, []*Song{song})
}

// EnqueueMany appends songs in order under a single persisted write.
func (q *Queue) EnqueueMany(ctx context.Context, songs []*Song) error {
	if len(songs) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	next := q.next
	recs := make([]repository.SongRecord, len(songs))
	for i, s := range songs {
		s.Index = next
		next++
		recs[i] = s.record()
	}
	if err := q.repo.AppendSongs(ctx, q.guildID, recs, next); err != nil {
		return fmt.Errorf("persist enqueue: %w", err)
	}
	q.next = next
	q.songs = append(q.songs, songs...)
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until the queue is non-empty or ctx is done, then pops the
// head, persists the removal together with the new current-song record, and
// returns the song. The persistence write runs on a cancellation-shielded
// context: a caller cancelled mid-write cannot leave storage behind memory.
func (q *Queue) Dequeue(ctx context.Context) (*Song, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for len(q.songs) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.notEmpty.Wait()
	}

	head := q.songs[0]
	if err := q.repo.PopHead(context.WithoutCancel(ctx), q.guildID, head.record()); err != nil {
		return nil, fmt.Errorf("persist dequeue: %w", err)
	}
	q.songs = q.songs[1:]
	return head, nil
}

// DeleteAt removes and returns the song at the given queue position. The
// persisted removal matches on the song's unique index, not its position,
// since positions shift as the queue drains.
func (q *Queue) DeleteAt(ctx context.Context, position int) (*Song, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if position < 0 || position >= len(q.songs) {
		return nil, ErrPositionOutOfRange
	}
	song := q.songs[position]
	if err := q.repo.DeleteSong(ctx, q.guildID, song.Index); err != nil {
		return nil, fmt.Errorf("persist delete: %w", err)
	}
	q.songs = append(q.songs[:position], q.songs[position+1:]...)
	return song, nil
}

// Purge clears both the persisted and in-memory queue. The index counter is
// left alone so indices stay unique across the guild's lifetime.
func (q *Queue) Purge(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.repo.PurgeSongs(ctx, q.guildID); err != nil {
		return fmt.Errorf("persist purge: %w", err)
	}
	q.songs = nil
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.songs)
}

// At returns the song at a queue position without removing it.
func (q *Queue) At(position int) (*Song, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if position < 0 || position >= len(q.songs) {
		return nil, ErrPositionOutOfRange
	}
	return q.songs[position], nil
}

// Snapshot copies the current pending songs in queue order.
func (q *Queue) Snapshot() []*Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Song, len(q.songs))
	copy(out, q.songs)
	return out
}

// NextIndex reports the next index that will be assigned.
func (q *Queue) NextIndex() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}
