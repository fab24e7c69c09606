// internal/models/models.go
package models

import "time"

// UsageEvent is an append-only fact recorded after every completed
// summarization. The rolling per-guild cap is derived from these rows.
type UsageEvent struct {
	ID          uint   `gorm:"primaryKey"`
	GuildID     string `gorm:"index;not null"`
	GuildName   string
	CommandName string `gorm:"not null"`
	UserID      string `gorm:"index"`
	UserName    string
	ChannelID   string
	ChannelName string
	Timestamp   time.Time `gorm:"index;not null"`
	CreatedAt   time.Time
}

// GuildJoin records the bot being added to a guild. Rejoins append again.
type GuildJoin struct {
	ID        uint   `gorm:"primaryKey"`
	GuildID   string `gorm:"index;not null"`
	GuildName string
	OwnerID   string
	JoinedAt  time.Time `gorm:"index;not null"`
}

// GuildSettings holds per-guild preferences, one row per guild, created
// lazily on first touch. An empty Language means the default language;
// NoticeVersion is the last update notice the guild was marked for.
type GuildSettings struct {
	GuildID       string `gorm:"primaryKey"`
	Language      string
	NoticeVersion string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserDailyUsage counts completed summarizations per user per calendar day.
// DayKey is a 2006-01-02 date rendered in the configured reference timezone.
type UserDailyUsage struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"not null;uniqueIndex:idx_user_daily_usage_user_day"`
	DayKey    string `gorm:"not null;uniqueIndex:idx_user_daily_usage_user_day"`
	UsedCount int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
