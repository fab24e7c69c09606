// internal/bot/handler.go
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"backscroll-bot/internal/config"
	"backscroll-bot/internal/database"
	"backscroll-bot/internal/models"

	"github.com/bwmarrin/discordgo"
)

// Command names as registered with Discord. Both count against the same
// guild cap.
const (
	CommandSummarize        = "backscroll"
	CommandSummarizePrivate = "backscroll_private"
	commandLanguage         = "backscroll_language"
)

// SummaryCommands lists the commands the rolling guild cap counts.
var SummaryCommands = []string{CommandSummarize, CommandSummarizePrivate}

type Handler struct {
	cfg          config.Config
	log          *slog.Logger
	db           *database.DB
	orchestrator *Orchestrator
	session      *discordgo.Session
}

func NewHandler(cfg config.Config, log *slog.Logger, db *database.DB, orchestrator *Orchestrator) *Handler {
	return &Handler{
		cfg:          cfg,
		log:          log,
		db:           db,
		orchestrator: orchestrator,
	}
}

func (h *Handler) SetSession(s *discordgo.Session) {
	h.session = s
	s.AddHandler(h.handleInteraction)
	s.AddHandler(h.onGuildCreate)
}

// RegisterCommands registers the slash commands for the bot.
func (h *Handler) RegisterCommands() error {
	minCount := float64(1)
	countOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "count",
		Description: fmt.Sprintf("How many messages to fetch (1-%d)", h.cfg.MaxBackscroll),
		MinValue:    &minCount,
		MaxValue:    float64(h.cfg.MaxBackscroll),
	}

	commands := []*discordgo.ApplicationCommand{
		{
			Name:        CommandSummarize,
			Description: "Summarize the last N messages in this channel.",
			Options:     []*discordgo.ApplicationCommandOption{countOption},
		},
		{
			Name:        CommandSummarizePrivate,
			Description: "Summarize the last N messages and send privately.",
			Options:     []*discordgo.ApplicationCommandOption{countOption},
		},
		{
			Name:        commandLanguage,
			Description: "Set or reset the summary language for this server.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Write summaries in the given language.",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "language",
							Description: "Language name, e.g. arabic",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "reset",
					Description: "Go back to the default language.",
				},
			},
		},
		{Name: "usage", Description: "(Admin) Total usage in the last 24h."},
		{Name: "top", Description: "(Admin) Top 5 servers by usage (last 7d)."},
		{Name: "export", Description: "(Admin) Export usage (last 7d) as CSV."},
		{
			Name:        "joins",
			Description: "(Admin) Show last N servers the bot joined.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "n",
					Description: "How many servers to list (default 5)",
				},
			},
		},
	}

	for _, cmd := range commands {
		if _, err := h.session.ApplicationCommandCreate(h.session.State.User.ID, "", cmd); err != nil {
			return fmt.Errorf("error creating '%s' command: %w", cmd.Name, err)
		}
	}

	h.log.Info("slash commands registered")
	return nil
}

func (h *Handler) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	switch i.ApplicationCommandData().Name {
	case CommandSummarize:
		h.handleSummarize(s, i, false)
	case CommandSummarizePrivate:
		h.handleSummarize(s, i, true)
	case commandLanguage:
		h.handleLanguage(s, i)
	case "usage":
		h.handleUsage(s, i)
	case "top":
		h.handleTop(s, i)
	case "export":
		h.handleExport(s, i)
	case "joins":
		h.handleJoins(s, i)
	}
}

func (h *Handler) handleSummarize(s *discordgo.Session, i *discordgo.InteractionCreate, private bool) {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}
	if private {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		h.log.Error("interaction defer failed", "err", err)
		return
	}

	count := h.cfg.DefaultBackscroll
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "count" {
			count = int(opt.IntValue())
		}
	}
	if count < 1 {
		count = 1
	}
	if count > h.cfg.MaxBackscroll {
		count = h.cfg.MaxBackscroll
	}

	req := Request{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Count:     count,
		Private:   private,
	}
	if private {
		req.Command = CommandSummarizePrivate
	} else {
		req.Command = CommandSummarize
	}
	if i.Member != nil && i.Member.User != nil {
		req.UserID = i.Member.User.ID
		req.UserName = i.Member.User.Username
	} else if i.User != nil {
		req.UserID = i.User.ID
		req.UserName = i.User.Username
	}
	req.Privileged = h.cfg.IsPrivileged(req.UserID)
	if guild, err := s.State.Guild(i.GuildID); err == nil {
		req.GuildName = guild.Name
	}
	if channel, err := s.State.Channel(i.ChannelID); err == nil {
		req.ChannelName = channel.Name
	}

	sink := newInteractionSink(s, i.Interaction, req.UserID)
	h.orchestrator.Run(context.Background(), req, sink)
}

func (h *Handler) handleLanguage(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil {
		h.respondEphemeral(s, i, "❌ This command can only be used in a server.")
		return
	}
	if i.Member.Permissions&discordgo.PermissionManageGuild == 0 {
		h.respondEphemeral(s, i, "❌ You need the Manage Server permission for this.")
		return
	}

	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return
	}

	switch options[0].Name {
	case "set":
		value := options[0].Options[0].StringValue()
		if err := h.db.SetGuildLanguage(i.GuildID, value); err != nil {
			h.log.Error("set language failed", "guild_id", i.GuildID, "err", err)
			h.respondEphemeral(s, i, "❌ Could not save the language setting.")
			return
		}
		h.respondEphemeral(s, i, fmt.Sprintf("✅ Summaries will now be written in %s.",
			database.NormalizeLanguage(value)))
	case "reset":
		if err := h.db.ResetGuildLanguage(i.GuildID); err != nil {
			h.log.Error("reset language failed", "guild_id", i.GuildID, "err", err)
			h.respondEphemeral(s, i, "❌ Could not reset the language setting.")
			return
		}
		h.respondEphemeral(s, i, "✅ Summaries will use the default language again.")
	}
}

// onGuildCreate fires both for new joins and for guilds streamed at startup;
// only fresh joins get recorded.
func (h *Handler) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || time.Since(g.JoinedAt) > time.Minute {
		return
	}
	err := h.db.RecordGuildJoin(&models.GuildJoin{
		GuildID:   g.ID,
		GuildName: g.Name,
		OwnerID:   g.OwnerID,
		JoinedAt:  time.Now(),
	})
	if err != nil {
		h.log.Error("guild join record failed", "guild_id", g.ID, "err", err)
		return
	}
	h.log.Info("joined guild", "guild_id", g.ID, "guild_name", g.Name)
}

func (h *Handler) respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, text string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		h.log.Warn("interaction respond failed", "err", err)
	}
}
