package handlers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/hikaribot/hikari/internal/config"
	"github.com/hikaribot/hikari/internal/player"
	"github.com/hikaribot/hikari/internal/repository"
	"github.com/hikaribot/hikari/internal/voice"
)

type Bot struct {
	cfg  *config.Config
	repo *repository.Repo
	pm   *player.PlayerManager
	cmd  *CommandHandler

	sessMu sync.Mutex
	sess   *discordgo.Session
}

func NewBot(cfg *config.Config, repo *repository.Repo) *Bot {
	b := &Bot{cfg: cfg, repo: repo}
	b.pm = player.NewPlayerManager(cfg, repo, b.newTransport, b)
	b.cmd = NewCommandHandler(cfg, repo, b.pm)
	return b
}

func (b *Bot) session() *discordgo.Session {
	b.sessMu.Lock()
	defer b.sessMu.Unlock()
	return b.sess
}

// newTransport is the registry's transport factory.
func (b *Bot) newTransport(guildID string) voice.Transport {
	return voice.NewDiscordTransport(b.session(), guildID)
}

// Announce implements player.Announcer.
func (b *Bot) Announce(channelID, msg string) {
	s := b.session()
	if s == nil {
		return
	}
	if _, err := s.ChannelMessageSend(channelID, msg); err != nil {
		slog.Warn("announce failed", "channelID", channelID, "err", err)
	}
}

func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	b.sessMu.Lock()
	b.sess = dg
	b.sessMu.Unlock()

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("connected", "user", s.State.User.Username)
		appID := s.State.User.ID
		if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
			slog.Error("register global commands", "err", err)
		} else {
			slog.Info("registered global application commands")
		}
	})

	dg.AddHandler(b.cmd.HandleInteraction)

	if err := dg.Open(); err != nil {
		return err
	}
	defer dg.Close()

	<-ctx.Done()
	b.pm.Shutdown()
	return nil
}
