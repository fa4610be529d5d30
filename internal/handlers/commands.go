package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hikaribot/hikari/internal/config"
	plib "github.com/hikaribot/hikari/internal/player"
	"github.com/hikaribot/hikari/internal/repository"
)

type CommandHandler struct {
	cfg  *config.Config
	repo *repository.Repo
	pm   *plib.PlayerManager
}

func NewCommandHandler(cfg *config.Config, repo *repository.Repo, pm *plib.PlayerManager) *CommandHandler {
	return &CommandHandler{cfg: cfg, repo: repo, pm: pm}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID string, guildID string) error {
	cmds := []*discordgo.ApplicationCommand{
		{Name: "join", Description: "Join your voice channel and play the queue"},
		{Name: "leave", Description: "Leave the voice channel"},
		{
			Name:        "play",
			Description: "Add a song to the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "url", Description: "source URL", Type: discordgo.ApplicationCommandOptionString, Required: true},
				{Name: "title", Description: "display title", Type: discordgo.ApplicationCommandOptionString},
			},
		},
		{Name: "queue", Description: "Show the current queue"},
		{Name: "skip", Description: "Skip the current song"},
		{
			Name:        "volume",
			Description: "Set volume of the current song (0-200)",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "percent", Description: "0-200", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
			},
		},
		{Name: "repeat", Description: "Toggle repeat mode for the current song"},
		{
			Name:        "delete",
			Description: "Delete a song from the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "position", Description: "queue position (1-based)", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
			},
		},
		{Name: "purge", Description: "Purge all songs from the queue"},
		{
			Name:        "forward",
			Description: "Fast forward the current song (1-59 seconds)",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "seconds", Description: "seconds to skip [default: 10]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{Name: "toggle", Description: "Toggle play/pause"},
		{Name: "nowplaying", Description: "Show the current song and position"},
		{Name: "export", Description: "Export the queue as a JSON file"},
		{
			Name:        "import",
			Description: "Import a JSON playlist file into the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "file", Description: "playlist JSON", Type: discordgo.ApplicationCommandOptionAttachment, Required: true},
			},
		},
		{Name: "setchannel", Description: "Use this channel for song announcements"},
		{Name: "autoinfo", Description: "Toggle automatic song info display"},
	}
	_, err := s.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
	return err
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand || i.GuildID == "" {
		return
	}

	p, err := h.pm.GetOrCreate(context.Background(), i.GuildID)
	if err != nil {
		slog.Error("get player", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "Something went wrong.", true)
		return
	}

	data := i.ApplicationCommandData()
	switch data.Name {
	case "join":
		h.cmdJoin(s, i, p)
	case "leave":
		h.cmdLeave(s, i, p)
	case "play":
		h.cmdPlay(s, i, p)
	case "queue":
		h.cmdQueue(s, i, p)
	case "skip":
		h.cmdSkip(s, i, p)
	case "volume":
		h.cmdVolume(s, i, p)
	case "repeat":
		h.cmdRepeat(s, i, p)
	case "delete":
		h.cmdDelete(s, i, p)
	case "purge":
		h.cmdPurge(s, i, p)
	case "forward":
		h.cmdForward(s, i, p)
	case "toggle":
		h.cmdToggle(s, i, p)
	case "nowplaying":
		h.cmdNowPlaying(s, i, p)
	case "export":
		h.cmdExport(s, i, p)
	case "import":
		h.cmdImport(s, i, p)
	case "setchannel":
		h.cmdSetChannel(s, i, p)
	case "autoinfo":
		h.cmdAutoInfo(s, i, p)
	default:
		slog.Debug("unknown command", "name", data.Name, "guildID", i.GuildID)
	}
}

func (h *CommandHandler) cmdJoin(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	chID, ok := userInVoice(s, i.GuildID, userIDOf(i))
	if !ok {
		h.reply(s, i, "You are not in a voice channel. Try joining one, I'm waiting.", true)
		return
	}
	h.deferReply(s, i, false)
	err := p.Join(context.Background(), chID, i.ChannelID)
	switch {
	case errors.Is(err, plib.ErrAlreadyConnected):
		h.editReply(s, i, "I am already in a voice channel.")
	case err != nil:
		slog.Warn("voice join", "guildID", i.GuildID, "err", err)
		h.editReply(s, i, "Cannot connect to voice. Try joining another voice channel.")
	default:
		h.editReply(s, i, "Joined and ready to play.")
	}
}

func (h *CommandHandler) cmdLeave(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	if !p.Transport().Connected() {
		h.reply(s, i, "I am not in any voice channel.", true)
		return
	}
	p.Cancel()
	if err := p.Leave(); err != nil {
		slog.Warn("voice leave", "guildID", i.GuildID, "err", err)
	}
	h.reply(s, i, "Left the voice channel.", false)
}

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	var url, title string
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "url":
			url = opt.StringValue()
		case "title":
			title = opt.StringValue()
		}
	}
	if title == "" {
		title = url
	}

	song := plib.NewSong(userIDOf(i), title, url)
	err := p.Enqueue(context.Background(), song)
	switch {
	case errors.Is(err, plib.ErrQueueFull):
		h.reply(s, i, "Too many entries.", true)
	case err != nil:
		slog.Error("enqueue", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "Could not add that to the queue.", true)
	default:
		h.reply(s, i, fmt.Sprintf("Added **%s** to queue.", song.Title), false)
	}
}

func (h *CommandHandler) cmdQueue(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	var b strings.Builder
	if cur := p.Current(); cur != nil {
		fmt.Fprintf(&b, "(%s) %s\n", p.Status(), cur.Info())
	} else {
		fmt.Fprintf(&b, "(%s)\n", p.Status())
	}
	songs := p.Queue().Snapshot()
	if len(songs) == 0 {
		b.WriteString("Queue is empty.")
	}
	for n, song := range songs {
		if n >= 20 {
			fmt.Fprintf(&b, "... and %d more", len(songs)-n)
			break
		}
		fmt.Fprintf(&b, "`%d.` **%s**\n", n+1, song.Title)
	}
	h.reply(s, i, b.String(), false)
}

func (h *CommandHandler) cmdSkip(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	if err := p.Skip(context.Background()); err != nil {
		slog.Error("skip", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "Something went wrong while skipping.", true)
		return
	}
	h.reply(s, i, "Skipped.", false)
}

func (h *CommandHandler) cmdVolume(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	vol := int(i.ApplicationCommandData().Options[0].IntValue())
	err := p.SetVolume(vol)
	switch {
	case errors.Is(err, plib.ErrVolumeRange):
		h.reply(s, i, "Volume must be between 0 and 200.", true)
	case errors.Is(err, plib.ErrNoCurrentSong):
		h.reply(s, i, "No song is currently playing.", true)
	default:
		h.reply(s, i, fmt.Sprintf("Volume for current song has been set to %d%%.", vol), false)
	}
}

func (h *CommandHandler) cmdRepeat(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	if p.ToggleRepeat() {
		h.reply(s, i, "Repeat mode has been turned on.", false)
	} else {
		h.reply(s, i, "Repeat mode has been turned off.", false)
	}
}

func (h *CommandHandler) cmdDelete(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	pos := int(i.ApplicationCommandData().Options[0].IntValue()) - 1
	song, err := p.Queue().DeleteAt(context.Background(), pos)
	switch {
	case errors.Is(err, plib.ErrPositionOutOfRange):
		h.reply(s, i, "Position out of range.", true)
	case err != nil:
		slog.Error("delete", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "Could not delete that entry.", true)
	default:
		h.reply(s, i, fmt.Sprintf("Deleted **%s** from queue.", song.Title), false)
	}
}

func (h *CommandHandler) cmdPurge(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	if err := p.Queue().Purge(context.Background()); err != nil {
		slog.Error("purge", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "Could not purge the queue.", true)
		return
	}
	h.reply(s, i, "Queue purged.", false)
}

func (h *CommandHandler) cmdForward(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	seconds := 10
	if opts := i.ApplicationCommandData().Options; len(opts) > 0 {
		seconds = int(opts[0].IntValue())
	}
	before, after, err := p.FastForward(seconds)
	switch {
	case errors.Is(err, plib.ErrSeekRange):
		h.reply(s, i, "Fast forward time must be between 1 and 59 seconds.", true)
	case errors.Is(err, plib.ErrNotPlaying):
		h.reply(s, i, "Nothing is playing right now, oi.", true)
	default:
		h.reply(s, i, fmt.Sprintf("Forward from %s to %s.", before, after), false)
	}
}

func (h *CommandHandler) cmdToggle(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	paused, err := p.Toggle()
	switch {
	case err != nil:
		h.reply(s, i, "Nothing is playing right now.", true)
	case paused:
		h.reply(s, i, "Paused.", false)
	default:
		h.reply(s, i, "Resumed playing.", false)
	}
}

func (h *CommandHandler) cmdNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	cur := p.Current()
	if cur == nil {
		h.reply(s, i, "No song is currently playing.", true)
		return
	}
	h.reply(s, i, cur.Info(), false)
}

func (h *CommandHandler) cmdExport(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	data, err := p.Export()
	if err != nil {
		slog.Error("export", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "Could not export the queue.", true)
		return
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Files: []*discordgo.File{{
				Name:        "playlist.json",
				ContentType: "application/json",
				Reader:      strings.NewReader(string(data)),
			}},
		},
	}); err != nil {
		slog.Warn("export reply failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) cmdImport(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	data := i.ApplicationCommandData()
	var att *discordgo.MessageAttachment
	for _, a := range data.Resolved.Attachments {
		att = a
		break
	}
	if att == nil {
		h.reply(s, i, "Attach a playlist file.", true)
		return
	}

	h.deferReply(s, i, false)
	payload, err := fetchAttachment(att.URL)
	if err != nil {
		slog.Warn("fetch attachment", "guildID", i.GuildID, "err", err)
		h.editReply(s, i, "Could not download that file.")
		return
	}

	n, err := p.Import(context.Background(), userIDOf(i), payload)
	switch {
	case errors.Is(err, plib.ErrBadPlaylist):
		h.editReply(s, i, "Wrong format for imported file.")
	case errors.Is(err, plib.ErrQueueFull):
		h.editReply(s, i, "Too many entries.")
	case err != nil:
		slog.Error("import", "guildID", i.GuildID, "err", err)
		h.editReply(s, i, "Could not import that playlist.")
	default:
		h.editReply(s, i, fmt.Sprintf("Added %d songs to queue.", n))
	}
}

func (h *CommandHandler) cmdSetChannel(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	p.SetAnnounceChannel(i.ChannelID)
	h.reply(s, i, "This channel will be used for song announcements.", false)
}

func (h *CommandHandler) cmdAutoInfo(s *discordgo.Session, i *discordgo.InteractionCreate, p *plib.Player) {
	on := !p.AutoInfo()
	p.SetAutoInfo(on)
	if on {
		h.reply(s, i, "Automatic info display is on.", false)
	} else {
		h.reply(s, i, "Automatic info display is off.", false)
	}
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := uint64(0)
	if ephemeral {
		flags = 1 << 6
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlags(flags),
		},
	}); err != nil {
		slog.Warn("reply failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) {
	flags := uint64(0)
	if ephemeral {
		flags = 1 << 6
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlags(flags),
		},
	}); err != nil {
		slog.Warn("defer reply failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	}); err != nil {
		slog.Warn("edit reply failed", "guildID", i.GuildID, "err", err)
	}
}

func userIDOf(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func userInVoice(s *discordgo.Session, guildID, userID string) (channelID string, ok bool) {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}

func fetchAttachment(url string) ([]byte, error) {
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
