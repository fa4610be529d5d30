package player

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hikaribot/hikari/internal/config"
	"github.com/hikaribot/hikari/internal/repository"
	"github.com/hikaribot/hikari/internal/voice"
)

// TransportFactory builds the voice transport for a guild.
type TransportFactory func(guildID string) voice.Transport

// PlayerManager is the process-wide registry of per-guild players. Creation
// is exclusive under the registry lock and seeds the player from persisted
// queue state; an idle watcher per player evicts it once its idle deadline
// expires.
type PlayerManager struct {
	cfg       *config.Config
	repo      *repository.Repo
	transport TransportFactory
	announcer Announcer

	mu      sync.Mutex
	players map[string]*Player
}

func NewPlayerManager(cfg *config.Config, repo *repository.Repo, tf TransportFactory, a Announcer) *PlayerManager {
	return &PlayerManager{
		cfg:       cfg,
		repo:      repo,
		transport: tf,
		announcer: a,
		players:   make(map[string]*Player),
	}
}

// GetOrCreate returns the guild's player, constructing and registering it on
// first access. While a player has no announce channel (it never joined
// voice) its idle deadline stays armed so unused players get evicted.
func (pm *PlayerManager) GetOrCreate(ctx context.Context, guildID string) (*Player, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.players[guildID]
	if !ok {
		st, err := pm.repo.EnsureGuild(ctx, guildID)
		if err != nil {
			return nil, err
		}
		q := NewQueue(pm.repo, guildID, st.NextIndex, st.Playlist)
		p = NewPlayer(pm.cfg, pm.repo, guildID, q, pm.transport(guildID), pm.announcer)
		if st.Current != nil {
			p.setCurrent(songFromRecord(*st.Current))
		}
		pm.players[guildID] = p
		go pm.watchIdle(p)
	}
	if p.AnnounceChannel() == "" {
		p.idle.Arm(pm.cfg.IdleTimeout)
	}
	return p, nil
}

// Peek returns the guild's player without creating one.
func (pm *PlayerManager) Peek(guildID string) *Player {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.players[guildID]
}

// Shutdown cancels every registered player and releases its transport.
func (pm *PlayerManager) Shutdown() {
	pm.mu.Lock()
	players := make([]*Player, 0, len(pm.players))
	for _, p := range pm.players {
		players = append(players, p)
	}
	pm.mu.Unlock()

	for _, p := range players {
		p.Cancel()
		if err := p.Leave(); err != nil {
			slog.Debug("shutdown leave", "guildID", p.GuildID(), "err", err)
		}
	}
}

// watchIdle re-arms on every deadline change and evicts the player when a
// wait finally expires.
func (pm *PlayerManager) watchIdle(p *Player) {
	for !p.idle.Wait() {
	}
	pm.mu.Lock()
	delete(pm.players, p.GuildID())
	pm.mu.Unlock()
	slog.Info("evicted idle player", "guildID", p.GuildID())
}
