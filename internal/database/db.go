// internal/database/db.go
package database

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"backscroll-bot/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB is the usage ledger. SQLite does not tolerate concurrent writers, so
// every write goes through writeMu; reads run unsynchronized and see only
// committed state.
type DB struct {
	*gorm.DB
	writeMu   sync.Mutex
	auditPath string
}

func NewDB(path, auditPath string) (*DB, error) {
	gormDB, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := gormDB.AutoMigrate(
		&models.UsageEvent{},
		&models.GuildJoin{},
		&models.GuildSettings{},
		&models.UserDailyUsage{},
	); err != nil {
		return nil, err
	}

	return &DB{DB: gormDB, auditPath: auditPath}, nil
}

// RecordUsageEvent durably appends one usage event and writes a best-effort
// plain-text audit line. The audit write can never fail the event itself.
func (db *DB) RecordUsageEvent(ev *models.UsageEvent) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if err := db.Create(ev).Error; err != nil {
		return fmt.Errorf("record usage event: %w", err)
	}
	db.appendAuditLine(ev)
	return nil
}

// CountGuildUsage returns how many events the guild produced after since for
// the given command names. Used to test the rolling 24h guild cap.
func (db *DB) CountGuildUsage(guildID string, since time.Time, commandNames []string) (int64, error) {
	var count int64
	err := db.Model(&models.UsageEvent{}).
		Where("guild_id = ? AND timestamp > ? AND command_name IN ?", guildID, since, commandNames).
		Count(&count).Error
	return count, err
}

// GetUserDailyUsage returns the user's completed-request count for the day.
// A missing row reads as zero.
func (db *DB) GetUserDailyUsage(userID, dayKey string) (int, error) {
	var row models.UserDailyUsage
	err := db.Where("user_id = ? AND day_key = ?", userID, dayKey).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return row.UsedCount, nil
}

// IncrementUserDailyUsage adjusts the (user, day) counter, creating the row
// at zero first. The upsert is a single statement under the write lock, so
// concurrent increments for the same key cannot race.
func (db *DB) IncrementUserDailyUsage(userID, dayKey string, delta int) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	row := models.UserDailyUsage{
		UserID:    userID,
		DayKey:    dayKey,
		UsedCount: delta,
	}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"used_count": gorm.Expr("used_count + ?", delta),
			"updated_at": time.Now(),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("increment daily usage for user %s: %w", userID, err)
	}
	return nil
}

// GetGuildLanguage returns the guild's summary language, empty meaning the
// default. The settings row is created lazily on first access.
func (db *DB) GetGuildLanguage(guildID string) (string, error) {
	settings, err := db.getOrCreateSettings(guildID)
	if err != nil {
		return "", err
	}
	return settings.Language, nil
}

// SetGuildLanguage stores a normalized language preference. Setting the same
// value twice is a no-op the second time.
func (db *DB) SetGuildLanguage(guildID, value string) error {
	return db.updateSettings(guildID, map[string]interface{}{
		"language": NormalizeLanguage(value),
	})
}

// ResetGuildLanguage reverts the guild to the default language.
func (db *DB) ResetGuildLanguage(guildID string) error {
	return db.updateSettings(guildID, map[string]interface{}{"language": ""})
}

// HasSeenUpdateNotice reports whether the guild was already marked for the
// given notice version.
func (db *DB) HasSeenUpdateNotice(guildID, currentVersion string) (bool, error) {
	settings, err := db.getOrCreateSettings(guildID)
	if err != nil {
		return false, err
	}
	return settings.NoticeVersion == currentVersion, nil
}

// MarkUpdateNoticeSeen persists the notice version. Callers must mark before
// sending, so two concurrent requests cannot both pass the not-yet-seen
// check and double-send. A marked notice whose send then fails stays marked.
func (db *DB) MarkUpdateNoticeSeen(guildID, currentVersion string) error {
	return db.updateSettings(guildID, map[string]interface{}{
		"notice_version": currentVersion,
	})
}

// RecordGuildJoin appends a join fact, independent of usage accounting.
func (db *DB) RecordGuildJoin(join *models.GuildJoin) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return db.Create(join).Error
}

// NormalizeLanguage lowercases and trims a language preference so repeated
// sets of the same value are idempotent.
func NormalizeLanguage(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func (db *DB) getOrCreateSettings(guildID string) (*models.GuildSettings, error) {
	var settings models.GuildSettings
	err := db.Where("guild_id = ?", guildID).First(&settings).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	settings = models.GuildSettings{GuildID: guildID}
	if err := db.Where(models.GuildSettings{GuildID: guildID}).
		FirstOrCreate(&settings).Error; err != nil {
		return nil, fmt.Errorf("create settings for guild %s: %w", guildID, err)
	}
	return &settings, nil
}

func (db *DB) updateSettings(guildID string, updates map[string]interface{}) error {
	if _, err := db.getOrCreateSettings(guildID); err != nil {
		return err
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return db.Model(&models.GuildSettings{}).
		Where("guild_id = ?", guildID).
		Updates(updates).Error
}
