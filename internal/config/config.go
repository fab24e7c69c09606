package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultSupportLink = "https://discord.gg/B3tb9nv8"

// Config aggregates runtime configuration for the bot.
type Config struct {
	DiscordToken string
	OpenAIKey    string

	MetricsDBPath string
	AuditLogPath  string

	AdminIDs          []string
	PrivilegedUserIDs []string

	CooldownWindow    time.Duration
	GuildDailyCap     int
	UserDailyCap      int
	ConcurrencyLimit  int
	ReferenceLocation *time.Location

	NoticeVersion string
	NoticeText    string
	SupportLink   string

	MaxBackscroll     int
	DefaultBackscroll int

	KeepalivePort int
}

// Load reads configuration from environment variables, applying defaults.
// A missing .env file is not an error; missing required variables are.
func Load() (Config, error) {
	_ = godotenv.Load() // optional .env

	cfg := Config{
		DiscordToken:      os.Getenv("DISCORD_TOKEN"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		MetricsDBPath:     getEnv("METRICS_DB", "metrics.db"),
		AuditLogPath:      getEnv("AUDIT_LOG", "usage_audit.log"),
		AdminIDs:          splitIDs(os.Getenv("ADMIN_IDS")),
		PrivilegedUserIDs: splitIDs(os.Getenv("PRIVILEGED_USER_IDS")),
		CooldownWindow:    time.Second * time.Duration(getInt("COOLDOWN_SECONDS", 60)),
		GuildDailyCap:     getInt("GUILD_DAILY_CAP", 25),
		UserDailyCap:      getInt("USER_DAILY_CAP", 10),
		ConcurrencyLimit:  getInt("CONCURRENCY_LIMIT", 3),
		NoticeVersion:     os.Getenv("NOTICE_VERSION"),
		NoticeText:        getEnv("NOTICE_TEXT", ""),
		SupportLink:       getEnv("SUPPORT_LINK", defaultSupportLink),
		MaxBackscroll:     getInt("MAX_BACKSCROLL", 500),
		DefaultBackscroll: getInt("DEFAULT_BACKSCROLL", 100),
		KeepalivePort:     getInt("PORT", 10000),
	}

	var missing []string
	if cfg.DiscordToken == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}
	if cfg.OpenAIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	tz := getEnv("REFERENCE_TIMEZONE", "America/New_York")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("invalid REFERENCE_TIMEZONE %q: %w", tz, err)
	}
	cfg.ReferenceLocation = loc

	if cfg.ConcurrencyLimit < 1 {
		cfg.ConcurrencyLimit = 1
	}
	if cfg.DefaultBackscroll > cfg.MaxBackscroll {
		cfg.DefaultBackscroll = cfg.MaxBackscroll
	}

	return cfg, nil
}

// IsAdmin reports whether the user may run the admin metrics commands.
func (c Config) IsAdmin(userID string) bool {
	return contains(c.AdminIDs, userID)
}

// IsPrivileged reports whether the user is exempt from the per-user daily cap.
// Admins are always privileged.
func (c Config) IsPrivileged(userID string) bool {
	return contains(c.AdminIDs, userID) || contains(c.PrivilegedUserIDs, userID)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func splitIDs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
