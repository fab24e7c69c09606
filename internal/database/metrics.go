// internal/database/metrics.go
package database

import (
	"time"

	"backscroll-bot/internal/models"
)

// GuildUsageCount is one row of the top-guilds report.
type GuildUsageCount struct {
	GuildName string
	Count     int64
}

// TotalUsageSince returns the number of usage events after since, across all
// guilds and commands.
func (db *DB) TotalUsageSince(since time.Time) (int64, error) {
	var count int64
	err := db.Model(&models.UsageEvent{}).
		Where("timestamp > ?", since).
		Count(&count).Error
	return count, err
}

// TopGuilds returns the most active guilds since the given time, busiest
// first.
func (db *DB) TopGuilds(since time.Time, limit int) ([]GuildUsageCount, error) {
	var rows []GuildUsageCount
	err := db.Model(&models.UsageEvent{}).
		Select("guild_name, COUNT(*) as count").
		Where("timestamp > ?", since).
		Group("guild_id").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// UsageRowsSince returns raw usage events after since, newest first. Feeds
// the CSV export.
func (db *DB) UsageRowsSince(since time.Time) ([]models.UsageEvent, error) {
	var events []models.UsageEvent
	err := db.Where("timestamp > ?", since).
		Order("timestamp DESC").
		Find(&events).Error
	return events, err
}

// RecentJoins returns the last n guild join records, newest first.
func (db *DB) RecentJoins(n int) ([]models.GuildJoin, error) {
	var joins []models.GuildJoin
	err := db.Order("joined_at DESC").Limit(n).Find(&joins).Error
	return joins, err
}
