// internal/database/audit.go
package database

import (
	"fmt"
	"log"
	"os"

	"backscroll-bot/internal/models"
)

// appendAuditLine writes one human-readable line per usage event to a plain
// text file. Fire-and-forget: any failure is logged and discarded so the
// primary record path never depends on it.
func (db *DB) appendAuditLine(ev *models.UsageEvent) {
	if db.auditPath == "" {
		return
	}

	f, err := os.OpenFile(db.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("Error opening audit log: %v", err)
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s\t%s\t%s (%s)\t%s (%s)\t#%s\n",
		ev.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		ev.CommandName,
		ev.GuildName, ev.GuildID,
		ev.UserName, ev.UserID,
		ev.ChannelName,
	)
	if _, err := f.WriteString(line); err != nil {
		log.Printf("Error writing audit log: %v", err)
	}
}
