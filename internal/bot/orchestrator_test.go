// internal/bot/orchestrator_test.go
package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"backscroll-bot/internal/config"
	"backscroll-bot/internal/models"
	"backscroll-bot/internal/throttle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu sync.Mutex

	guildCount int64
	userCount  int
	language   string

	incrementErr error
	recordErr    error
	markErr      error

	increments    int
	lastDayKey    string
	events        []*models.UsageEvent
	noticeVersion string
}

func (f *fakeLedger) CountGuildUsage(guildID string, since time.Time, commandNames []string) (int64, error) {
	return f.guildCount, nil
}

func (f *fakeLedger) GetUserDailyUsage(userID, dayKey string) (int, error) {
	return f.userCount, nil
}

func (f *fakeLedger) RecordUsageEvent(ev *models.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeLedger) IncrementUserDailyUsage(userID, dayKey string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrementErr != nil {
		return f.incrementErr
	}
	f.increments += delta
	f.lastDayKey = dayKey
	return nil
}

func (f *fakeLedger) GetGuildLanguage(guildID string) (string, error) {
	return f.language, nil
}

func (f *fakeLedger) HasSeenUpdateNotice(guildID, currentVersion string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.noticeVersion == currentVersion, nil
}

func (f *fakeLedger) MarkUpdateNoticeSeen(guildID, currentVersion string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.noticeVersion = currentVersion
	return nil
}

type fakeSource struct {
	msgs  []Message
	err   error
	calls int
}

func (f *fakeSource) FetchRecent(ctx context.Context, channelID string, limit int) ([]Message, error) {
	f.calls++
	return f.msgs, f.err
}

type fakeSummarizer struct {
	summary      string
	err          error
	calls        int
	lastText     string
	lastLanguage string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, formatted string, includeTopics bool, language string) (string, error) {
	f.calls++
	f.lastText = formatted
	f.lastLanguage = language
	return f.summary, f.err
}

type fakeSink struct {
	channelErr error
	directErr  error

	channel   []string
	ephemeral []string
	direct    []string
}

func (f *fakeSink) SendToChannel(text string) error {
	f.channel = append(f.channel, text)
	return f.channelErr
}

func (f *fakeSink) SendEphemeral(text string) error {
	f.ephemeral = append(f.ephemeral, text)
	return nil
}

func (f *fakeSink) SendDirect(text string) error {
	f.direct = append(f.direct, text)
	return f.directErr
}

type fixture struct {
	cfg        config.Config
	ledger     *fakeLedger
	cooldowns  *throttle.Cooldowns
	source     *fakeSource
	summarizer *fakeSummarizer
	orch       *Orchestrator
}

func newFixture(t *testing.T, cfg config.Config, ledger *fakeLedger) *fixture {
	t.Helper()
	if cfg.ReferenceLocation == nil {
		cfg.ReferenceLocation = time.UTC
	}
	if cfg.SupportLink == "" {
		cfg.SupportLink = "https://discord.gg/test"
	}
	if cfg.GuildDailyCap == 0 {
		cfg.GuildDailyCap = 25
	}
	if cfg.UserDailyCap == 0 {
		cfg.UserDailyCap = 10
	}
	if cfg.CooldownWindow == 0 {
		cfg.CooldownWindow = time.Minute
	}

	cooldowns := throttle.NewCooldowns(cfg.CooldownWindow)
	admission := throttle.NewAdmission(ledger, cooldowns,
		cfg.GuildDailyCap, cfg.UserDailyCap, cfg.ReferenceLocation, SummaryCommands)
	source := &fakeSource{msgs: []Message{
		{DisplayName: "alice", Text: "who broke the build"},
		{DisplayName: "bob", Text: "not me"},
	}}
	summarizer := &fakeSummarizer{summary: "Alice asked who broke the build; Bob denied it."}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := NewOrchestrator(cfg, log, ledger, admission, cooldowns, throttle.NewGate(3),
		source, summarizer)

	return &fixture{
		cfg:        cfg,
		ledger:     ledger,
		cooldowns:  cooldowns,
		source:     source,
		summarizer: summarizer,
		orch:       orch,
	}
}

func publicRequest() Request {
	return Request{
		Command:     CommandSummarize,
		GuildID:     "g1",
		GuildName:   "Test Guild",
		ChannelID:   "c1",
		ChannelName: "general",
		UserID:      "u1",
		UserName:    "alice",
		Count:       100,
	}
}

func TestOrchestrator_SuccessfulPublicRequest(t *testing.T) {
	fx := newFixture(t, config.Config{}, &fakeLedger{})
	sink := &fakeSink{}

	fx.orch.Run(context.Background(), publicRequest(), sink)

	require.Len(t, sink.channel, 1)
	assert.Contains(t, sink.channel[0], fx.summarizer.summary)
	assert.Contains(t, sink.channel[0], "last 100 messages")
	assert.Empty(t, sink.direct)

	assert.Equal(t, 1, fx.ledger.increments)
	require.Len(t, fx.ledger.events, 1)
	assert.Equal(t, CommandSummarize, fx.ledger.events[0].CommandName)
	assert.Equal(t, "g1", fx.ledger.events[0].GuildID)

	assert.Contains(t, fx.summarizer.lastText, "alice: who broke the build")
	assert.Contains(t, fx.summarizer.lastText, "bob: not me")

	assert.Greater(t, fx.cooldowns.Remaining("u1", time.Now()), time.Duration(0),
		"a completed request must leave the user on cooldown")
}

func TestOrchestrator_CooldownDenialHasNoSideEffects(t *testing.T) {
	fx := newFixture(t, config.Config{}, &fakeLedger{})
	fx.cooldowns.Bump("u1", time.Now())
	sink := &fakeSink{}

	fx.orch.Run(context.Background(), publicRequest(), sink)

	require.Len(t, sink.ephemeral, 1)
	assert.Contains(t, sink.ephemeral[0], "Please wait")
	assert.Zero(t, fx.source.calls, "denied requests must not fetch")
	assert.Zero(t, fx.summarizer.calls)
	assert.Zero(t, fx.ledger.increments)
	assert.Empty(t, fx.ledger.events)
}

func TestOrchestrator_GuildCapDenialProducesNoEvents(t *testing.T) {
	// Guild cap 2, already at 2: the third request is refused outright.
	fx := newFixture(t, config.Config{GuildDailyCap: 2}, &fakeLedger{guildCount: 2})
	sink := &fakeSink{}

	fx.orch.Run(context.Background(), publicRequest(), sink)

	require.Len(t, sink.ephemeral, 1)
	assert.Contains(t, sink.ephemeral[0], "daily summary limit")
	assert.Empty(t, fx.ledger.events)
	assert.Zero(t, fx.ledger.increments)
	assert.Equal(t, time.Duration(0), fx.cooldowns.Remaining("u1", time.Now()),
		"a denial must not start the cooldown")
}

func TestOrchestrator_DirectMessageContextDenied(t *testing.T) {
	fx := newFixture(t, config.Config{}, &fakeLedger{})
	sink := &fakeSink{}

	req := publicRequest()
	req.GuildID = ""
	fx.orch.Run(context.Background(), req, sink)

	require.Len(t, sink.ephemeral, 1)
	assert.Contains(t, sink.ephemeral[0], "text channels")
	assert.Zero(t, fx.source.calls)
}

func TestOrchestrator_EmptyWindowCountsNothing(t *testing.T) {
	fx := newFixture(t, config.Config{}, &fakeLedger{})
	fx.source.msgs = nil
	sink := &fakeSink{}

	fx.orch.Run(context.Background(), publicRequest(), sink)

	require.Len(t, sink.ephemeral, 1)
	assert.Contains(t, sink.ephemeral[0], "No messages found")
	assert.Zero(t, fx.summarizer.calls)
	assert.Zero(t, fx.ledger.increments)
	assert.Empty(t, fx.ledger.events)
}

func TestOrchestrator_SummarizeFailureCostsNothing(t *testing.T) {
	fx := newFixture(t, config.Config{}, &fakeLedger{})
	fx.summarizer.err = errors.New("model quota exhausted")
	sink := &fakeSink{}

	fx.orch.Run(context.Background(), publicRequest(), sink)

	require.Len(t, sink.ephemeral, 1)
	assert.Contains(t, sink.ephemeral[0], "couldn't complete the summary")
	assert.Contains(t, sink.ephemeral[0], fx.cfg.SupportLink)
	assert.NotContains(t, sink.ephemeral[0], "quota exhausted",
		"internal error detail must not reach the requester")
	assert.Zero(t, fx.ledger.increments)
	assert.Empty(t, fx.ledger.events)
}

func TestOrchestrator_FetchFailureCostsNothing(t *testing.T) {
	fx := newFixture(t, config.Config{}, &fakeLedger{})
	fx.source.err = errors.New("missing access")
	sink := &fakeSink{}

	fx.orch.Run(context.Background(), publicRequest(), sink)

	require.Len(t, sink.ephemeral, 1)
	assert.Contains(t, sink.ephemeral[0], "couldn't complete the summary")
	assert.Zero(t, fx.ledger.increments)
	assert.Empty(t, fx.ledger.events)
}

func TestOrchestrator_CounterWriteFailureIsUpstream(t *testing.T) {
	fx := newFixture(t, config.Config{}, &fakeLedger{incrementErr: errors.New("db locked")})
	sink := &fakeSink{}

	fx.orch.Run(context.Background(), publicRequest(), sink)

	require.Len(t, sink.ephemeral, 1)
	assert.Contains(t, sink.ephemeral[0], "couldn't complete the summary")
	assert.Empty(t, fx.ledger.events, "the event must not land after a failed increment")
}

func TestOrchestrator_PrivateDeliversByDM(t *testing.T) {
	fx := newFixture(t, config.Config{}, &fakeLedger{})
	sink := &fakeSink{}

	req := publicRequest()
	req.Command = CommandSummarizePrivate
	req.Private = true
	fx.orch.Run(context.Background(), req, sink)

	require.Len(t, sink.direct, 1)
	assert.Contains(t, sink.direct[0], fx.summarizer.summary)
	assert.Contains(t, sink.direct[0], "#general")
	require.Len(t, sink.ephemeral, 1)
	assert.Contains(t, sink.ephemeral[0], "Sent you a DM")
	assert.Empty(t, sink.channel)
	assert.Equal(t, 1, fx.ledger.increments)
}

func TestOrchestrator_PrivateDMRefusalStillCounts(t *testing.T) {
	fx := newFixture(t, config.Config{}, &fakeLedger{})
	sink := &fakeSink{directErr: errors.New("cannot send messages to this user")}

	req := publicRequest()
	req.Command = CommandSummarizePrivate
	req.Private = true
	fx.orch.Run(context.Background(), req, sink)

	require.Len(t, sink.ephemeral, 1)
	assert.Contains(t, sink.ephemeral[0], "privacy settings")
	// The summary was produced; the failed delivery does not refund it.
	assert.Equal(t, 1, fx.ledger.increments)
	assert.Len(t, fx.ledger.events, 1)
}

func TestOrchestrator_PrivilegedSkipsUserCounter(t *testing.T) {
	fx := newFixture(t, config.Config{}, &fakeLedger{userCount: 50})
	sink := &fakeSink{}

	req := publicRequest()
	req.Privileged = true
	fx.orch.Run(context.Background(), req, sink)

	require.Len(t, sink.channel, 1)
	assert.Zero(t, fx.ledger.increments, "privileged usage is not counted against the user")
	assert.Len(t, fx.ledger.events, 1, "but the guild event is still recorded")
}

func TestOrchestrator_LanguagePreferenceReachesSummarizer(t *testing.T) {
	fx := newFixture(t, config.Config{}, &fakeLedger{language: "arabic"})
	sink := &fakeSink{}

	fx.orch.Run(context.Background(), publicRequest(), sink)

	assert.Equal(t, "arabic", fx.summarizer.lastLanguage)
}

func TestOrchestrator_NoticeSentOncePerGuild(t *testing.T) {
	cfg := config.Config{NoticeVersion: "v2", NoticeText: "New: private summaries!"}
	ledger := &fakeLedger{}
	fx := newFixture(t, cfg, ledger)

	sink := &fakeSink{}
	fx.orch.Run(context.Background(), publicRequest(), sink)
	require.Len(t, sink.channel, 2, "notice plus summary on the first request")
	assert.Equal(t, cfg.NoticeText, sink.channel[0])
	assert.Equal(t, "v2", ledger.noticeVersion)

	// Second request in the same guild: summary only.
	sink2 := &fakeSink{}
	req := publicRequest()
	req.UserID = "u2"
	fx.orch.Run(context.Background(), req, sink2)
	require.Len(t, sink2.channel, 1)
	assert.NotEqual(t, cfg.NoticeText, sink2.channel[0])
}

func TestOrchestrator_NoticeMarkFailureSuppressesSend(t *testing.T) {
	cfg := config.Config{NoticeVersion: "v2", NoticeText: "New: private summaries!"}
	ledger := &fakeLedger{markErr: errors.New("db locked")}
	fx := newFixture(t, cfg, ledger)

	sink := &fakeSink{}
	fx.orch.Run(context.Background(), publicRequest(), sink)

	// Mark-then-send: if the mark cannot land, the notice is not sent, but
	// the summary itself still goes out.
	require.Len(t, sink.channel, 1)
	assert.NotEqual(t, cfg.NoticeText, sink.channel[0])
}

func TestOrchestrator_NoticeSendFailureStaysMarked(t *testing.T) {
	cfg := config.Config{NoticeVersion: "v2", NoticeText: "New: private summaries!"}
	ledger := &fakeLedger{}
	fx := newFixture(t, cfg, ledger)

	sink := &fakeSink{channelErr: errors.New("missing permissions")}
	fx.orch.Run(context.Background(), publicRequest(), sink)

	assert.Equal(t, "v2", ledger.noticeVersion,
		"a failed send never unmarks the notice")
}

func TestFormatMessages_FlattensNewlines(t *testing.T) {
	formatted := FormatMessages([]Message{
		{DisplayName: "alice", Text: "line one\nline two\r\nline three"},
		{DisplayName: "bob", Text: "ok"},
	})
	assert.Equal(t, "alice: line one line two  line three\nbob: ok", formatted)
}
