// cmd/bot/main.go
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"backscroll-bot/internal/ai"
	"backscroll-bot/internal/bot"
	"backscroll-bot/internal/config"
	"backscroll-bot/internal/database"
	"backscroll-bot/internal/keepalive"
	"backscroll-bot/internal/throttle"
	"backscroll-bot/pkg/logger"

	"github.com/bwmarrin/discordgo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.NewDB(cfg.MetricsDBPath, cfg.AuditLogPath)
	if err != nil {
		log.Fatalf("Failed to open metrics database: %v", err)
	}

	discord, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.Fatalf("Error creating Discord session: %v", err)
	}

	aiService := ai.NewAIService(cfg.OpenAIKey)
	cooldowns := throttle.NewCooldowns(cfg.CooldownWindow)
	admission := throttle.NewAdmission(db, cooldowns,
		cfg.GuildDailyCap, cfg.UserDailyCap, cfg.ReferenceLocation, bot.SummaryCommands)
	gate := throttle.NewGate(cfg.ConcurrencyLimit)

	orchestrator := bot.NewOrchestrator(cfg, logr, db, admission, cooldowns, gate,
		bot.NewChannelSource(discord), aiService)
	handler := bot.NewHandler(cfg, logr, db, orchestrator)
	handler.SetSession(discord)

	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	if err := discord.Open(); err != nil {
		log.Fatalf("Error opening Discord connection: %v", err)
	}
	defer discord.Close()

	if err := handler.RegisterCommands(); err != nil {
		log.Fatalf("Error registering commands: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := keepalive.NewServer(cfg.KeepalivePort, logr).Run(ctx); err != nil {
			logr.Error("keepalive server stopped", "err", err)
		}
	}()

	logr.Info("backscroll bot is running",
		"commands", "/backscroll, /backscroll_private, /backscroll_language")

	<-ctx.Done()
	logr.Info("shutting down")
}
