// internal/bot/orchestrator.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"backscroll-bot/internal/config"
	"backscroll-bot/internal/models"
	"backscroll-bot/internal/throttle"
)

// Message is one chat message from the fetched window.
type Message struct {
	DisplayName string
	Text        string
	Timestamp   time.Time
}

// MessageSource fetches recent channel messages oldest to newest, with bot
// authors and blank content already dropped.
type MessageSource interface {
	FetchRecent(ctx context.Context, channelID string, limit int) ([]Message, error)
}

// Summarizer produces the digest for a formatted message window.
type Summarizer interface {
	Summarize(ctx context.Context, formatted string, includeTopics bool, language string) (string, error)
}

// ReplySink delivers user-facing text for one request. Every send can fail
// independently; a failed send never rolls anything back.
type ReplySink interface {
	SendToChannel(text string) error
	SendEphemeral(text string) error
	SendDirect(text string) error
}

// Ledger is the slice of the database the orchestrator writes to.
type Ledger interface {
	RecordUsageEvent(ev *models.UsageEvent) error
	IncrementUserDailyUsage(userID, dayKey string, delta int) error
	GetGuildLanguage(guildID string) (string, error)
	HasSeenUpdateNotice(guildID, currentVersion string) (bool, error)
	MarkUpdateNoticeSeen(guildID, currentVersion string) error
}

// Request describes one summarization request. Private selects the DM
// delivery variant; everything upstream of delivery is identical.
type Request struct {
	Command     string
	GuildID     string
	GuildName   string
	ChannelID   string
	ChannelName string
	UserID      string
	UserName    string
	Privileged  bool
	Count       int
	Private     bool
}

// Orchestrator drives one request end to end: admission, one-time notice,
// cooldown bump, concurrency gate, fetch, summarize, ledger update, reply.
type Orchestrator struct {
	cfg        config.Config
	log        *slog.Logger
	ledger     Ledger
	admission  *throttle.Admission
	cooldowns  *throttle.Cooldowns
	gate       *throttle.Gate
	source     MessageSource
	summarizer Summarizer
	now        func() time.Time
}

func NewOrchestrator(cfg config.Config, log *slog.Logger, ledger Ledger, admission *throttle.Admission, cooldowns *throttle.Cooldowns, gate *throttle.Gate, source MessageSource, summarizer Summarizer) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		log:        log,
		ledger:     ledger,
		admission:  admission,
		cooldowns:  cooldowns,
		gate:       gate,
		source:     source,
		summarizer: summarizer,
		now:        time.Now,
	}
}

// Run executes the request. All outcomes, including denials and failures,
// are reported through the sink; Run itself never returns an error to the
// Discord layer.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink ReplySink) {
	now := o.now()

	if err := o.admission.Check(req.GuildID, req.UserID, req.Privileged, now); err != nil {
		o.sendDenial(req, sink, err)
		return
	}

	// Best-effort, before the main flow; a failed send is not retried.
	o.deliverNotice(req, sink)

	// Bump before the costly work so retries during a slow model call keep
	// hitting the cooldown.
	o.cooldowns.Bump(req.UserID, now)

	release, err := o.gate.Acquire(ctx, req.GuildID)
	if err != nil {
		o.log.Error("gate acquire failed", "guild_id", req.GuildID, "err", err)
		o.apologize(sink)
		return
	}
	defer release()

	// The pre-gate admission result may be stale after waiting for a slot;
	// re-check the caps now that no other request for this guild can record
	// events underneath us.
	if err := o.admission.CheckCaps(req.GuildID, req.UserID, req.Privileged, o.now()); err != nil {
		o.sendDenial(req, sink, err)
		return
	}

	msgs, err := o.source.FetchRecent(ctx, req.ChannelID, req.Count)
	if err != nil {
		o.log.Error("message fetch failed", "channel_id", req.ChannelID, "err", err)
		o.apologize(sink)
		return
	}
	if len(msgs) == 0 {
		o.sendEphemeral(sink, "No messages found to summarize.")
		return
	}

	language, err := o.ledger.GetGuildLanguage(req.GuildID)
	if err != nil {
		// Not worth failing the summary over; fall back to the default.
		o.log.Error("language lookup failed", "guild_id", req.GuildID, "err", err)
		language = ""
	}

	summary, err := o.summarizer.Summarize(ctx, FormatMessages(msgs), true, language)
	if err != nil {
		o.log.Error("summarize failed", "guild_id", req.GuildID, "err", err)
		o.apologize(sink)
		return
	}

	// Counters move only after the model call succeeded, so a transient
	// fetch or summarize failure costs the user nothing.
	if !req.Privileged {
		dayKey := throttle.DayKey(o.now(), o.cfg.ReferenceLocation)
		if err := o.ledger.IncrementUserDailyUsage(req.UserID, dayKey, 1); err != nil {
			o.log.Error("daily usage increment failed", "user_id", req.UserID, "err", err)
			o.apologize(sink)
			return
		}
	}
	if err := o.ledger.RecordUsageEvent(&models.UsageEvent{
		GuildID:     req.GuildID,
		GuildName:   req.GuildName,
		CommandName: req.Command,
		UserID:      req.UserID,
		UserName:    req.UserName,
		ChannelID:   req.ChannelID,
		ChannelName: req.ChannelName,
		Timestamp:   o.now(),
	}); err != nil {
		o.log.Error("usage event record failed", "guild_id", req.GuildID, "err", err)
		o.apologize(sink)
		return
	}

	o.deliver(req, sink, summary)
}

func (o *Orchestrator) deliver(req Request, sink ReplySink, summary string) {
	if !req.Private {
		text := fmt.Sprintf("📜 **Summary of the last %d messages:**\n\n%s", req.Count, summary)
		if err := sink.SendToChannel(text); err != nil {
			o.log.Error("summary delivery failed", "channel_id", req.ChannelID, "err", err)
		}
		return
	}

	text := fmt.Sprintf("📬 **Private summary of the last %d messages in #%s:**\n\n%s",
		req.Count, req.ChannelName, summary)
	if err := sink.SendDirect(text); err != nil {
		// Typically the user has DMs disabled. The usage still counts.
		o.sendEphemeral(sink, "❌ Could not send you a DM. Please check your privacy settings.")
		return
	}
	o.sendEphemeral(sink, "✅ Sent you a DM with the summary.")
}

// deliverNotice sends the one-time update notice to the guild's channel.
// The seen mark is persisted before the send; if the send then fails, the
// notice is treated as delivered anyway (at-most-once).
func (o *Orchestrator) deliverNotice(req Request, sink ReplySink) {
	if o.cfg.NoticeVersion == "" || o.cfg.NoticeText == "" {
		return
	}

	seen, err := o.ledger.HasSeenUpdateNotice(req.GuildID, o.cfg.NoticeVersion)
	if err != nil {
		o.log.Error("notice check failed", "guild_id", req.GuildID, "err", err)
		return
	}
	if seen {
		return
	}
	if err := o.ledger.MarkUpdateNoticeSeen(req.GuildID, o.cfg.NoticeVersion); err != nil {
		o.log.Error("notice mark failed", "guild_id", req.GuildID, "err", err)
		return
	}
	if err := sink.SendToChannel(o.cfg.NoticeText); err != nil {
		o.log.Warn("notice send failed", "guild_id", req.GuildID, "err", err)
	}
}

func (o *Orchestrator) sendDenial(req Request, sink ReplySink, err error) {
	var cooldown *throttle.CooldownError
	switch {
	case errors.Is(err, throttle.ErrDirectMessage):
		o.sendEphemeral(sink, "❌ This command can only be used in text channels.")
	case errors.As(err, &cooldown):
		seconds := int(cooldown.Remaining.Seconds() + 0.5)
		o.sendEphemeral(sink, fmt.Sprintf("⏳ Please wait %ds before summarizing again.", seconds))
	case errors.Is(err, throttle.ErrGuildCapExceeded):
		o.sendEphemeral(sink, "❌ This server has reached its daily summary limit. Try again later.")
	case errors.Is(err, throttle.ErrUserCapExceeded):
		o.sendEphemeral(sink, "❌ You've reached your daily summary limit. Try again tomorrow.")
	default:
		// A ledger read failed mid-check; admission correctness depends on
		// those reads, so treat it like any other upstream failure.
		o.log.Error("admission check failed", "guild_id", req.GuildID, "err", err)
		o.apologize(sink)
	}
}

func (o *Orchestrator) apologize(sink ReplySink) {
	o.sendEphemeral(sink, fmt.Sprintf(
		"❌ I couldn't complete the summary. Need help? Join our support server: %s",
		o.cfg.SupportLink))
}

func (o *Orchestrator) sendEphemeral(sink ReplySink, text string) {
	if err := sink.SendEphemeral(text); err != nil {
		o.log.Warn("reply send failed", "err", err)
	}
}

// FormatMessages renders the window as one "DisplayName: text" line per
// message, with newlines flattened so each message stays on its line.
func FormatMessages(msgs []Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text := strings.ReplaceAll(m.Text, "\n", " ")
		text = strings.ReplaceAll(text, "\r", " ")
		lines = append(lines, m.DisplayName+": "+strings.TrimSpace(text))
	}
	return strings.Join(lines, "\n")
}
