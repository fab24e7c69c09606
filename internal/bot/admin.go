// internal/bot/admin.go
package bot

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Admin metrics commands. Anyone can see them in the picker; only the
// configured admin IDs get an answer.

func (h *Handler) handleUsage(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !h.isAdmin(i) {
		h.respondEphemeral(s, i, "❌ Not allowed.")
		return
	}

	total, err := h.db.TotalUsageSince(time.Now().Add(-24 * time.Hour))
	if err != nil {
		h.log.Error("usage query failed", "err", err)
		h.respondEphemeral(s, i, "❌ Could not read usage data.")
		return
	}
	h.respondEphemeral(s, i, fmt.Sprintf("📊 Usage (last 24h): **%d**", total))
}

func (h *Handler) handleTop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !h.isAdmin(i) {
		h.respondEphemeral(s, i, "❌ Not allowed.")
		return
	}

	rows, err := h.db.TopGuilds(time.Now().Add(-7*24*time.Hour), 5)
	if err != nil {
		h.log.Error("top query failed", "err", err)
		h.respondEphemeral(s, i, "❌ Could not read usage data.")
		return
	}
	if len(rows) == 0 {
		h.respondEphemeral(s, i, "No usage in the last 7 days.")
		return
	}

	var out strings.Builder
	for idx, row := range rows {
		fmt.Fprintf(&out, "%d. %s — %d uses\n", idx+1, row.GuildName, row.Count)
	}
	h.respondEphemeral(s, i, "🏆 Top 5 servers (7d):\n"+out.String())
}

func (h *Handler) handleExport(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !h.isAdmin(i) {
		h.respondEphemeral(s, i, "❌ Not allowed.")
		return
	}

	events, err := h.db.UsageRowsSince(time.Now().Add(-7 * 24 * time.Hour))
	if err != nil {
		h.log.Error("export query failed", "err", err)
		h.respondEphemeral(s, i, "❌ Could not read usage data.")
		return
	}
	if len(events) == 0 {
		h.respondEphemeral(s, i, "No data to export.")
		return
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"Guild", "Command", "User", "Channel", "Timestamp"})
	for _, ev := range events {
		_ = w.Write([]string{
			ev.GuildName,
			ev.CommandName,
			ev.UserName,
			ev.ChannelName,
			strconv.FormatInt(ev.Timestamp.Unix(), 10),
		})
	}
	w.Flush()

	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "📂 Exported usage for the last 7 days:",
			Flags:   discordgo.MessageFlagsEphemeral,
			Files: []*discordgo.File{
				{
					Name:        "usage_7d.csv",
					ContentType: "text/csv",
					Reader:      &buf,
				},
			},
		},
	})
	if err != nil {
		h.log.Warn("export respond failed", "err", err)
	}
}

func (h *Handler) handleJoins(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !h.isAdmin(i) {
		h.respondEphemeral(s, i, "❌ Not allowed.")
		return
	}

	n := 5
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "n" {
			n = int(opt.IntValue())
		}
	}
	if n < 1 {
		n = 1
	}
	if n > 50 {
		n = 50
	}

	joins, err := h.db.RecentJoins(n)
	if err != nil {
		h.log.Error("joins query failed", "err", err)
		h.respondEphemeral(s, i, "❌ Could not read join data.")
		return
	}
	if len(joins) == 0 {
		h.respondEphemeral(s, i, "No join records yet.")
		return
	}

	var out strings.Builder
	for _, j := range joins {
		fmt.Fprintf(&out, "%s — joined <t:%d:R>\n", j.GuildName, j.JoinedAt.Unix())
	}
	h.respondEphemeral(s, i, fmt.Sprintf("📥 Last %d joins:\n%s", len(joins), out.String()))
}

func (h *Handler) isAdmin(i *discordgo.InteractionCreate) bool {
	if i.Member != nil && i.Member.User != nil {
		return h.cfg.IsAdmin(i.Member.User.ID)
	}
	if i.User != nil {
		return h.cfg.IsAdmin(i.User.ID)
	}
	return false
}
