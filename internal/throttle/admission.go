// internal/throttle/admission.go
package throttle

import (
	"fmt"
	"time"
)

// UsageReader is the slice of the ledger the admission check consults.
type UsageReader interface {
	CountGuildUsage(guildID string, since time.Time, commandNames []string) (int64, error)
	GetUserDailyUsage(userID, dayKey string) (int, error)
}

// Admission decides whether a summarization request may proceed. The checks
// run in a fixed order and the first failure wins: guild context, cooldown,
// guild rolling 24h cap, user daily cap. Privileged users skip only the
// user cap. A denial performs no writes anywhere.
type Admission struct {
	ledger       UsageReader
	cooldowns    *Cooldowns
	guildCap     int
	userCap      int
	loc          *time.Location
	commandNames []string
}

func NewAdmission(ledger UsageReader, cooldowns *Cooldowns, guildCap, userCap int, loc *time.Location, commandNames []string) *Admission {
	return &Admission{
		ledger:       ledger,
		cooldowns:    cooldowns,
		guildCap:     guildCap,
		userCap:      userCap,
		loc:          loc,
		commandNames: commandNames,
	}
}

// Check returns nil when the request is allowed, otherwise one of the
// denial errors from this package. Ledger read failures surface as-is.
func (a *Admission) Check(guildID, userID string, privileged bool, now time.Time) error {
	if guildID == "" {
		return ErrDirectMessage
	}

	if remaining := a.cooldowns.Remaining(userID, now); remaining > 0 {
		return &CooldownError{Remaining: remaining}
	}

	return a.CheckCaps(guildID, userID, privileged, now)
}

// CheckCaps runs only the guild and user cap checks. Callers that already
// passed Check re-run this once they hold the concurrency gate: the pre-gate
// result can be stale by the time a queued request finally runs, and the
// re-check under the gate keeps a guild's recorded events from overrunning
// the cap by more than the requests concurrently in flight.
func (a *Admission) CheckCaps(guildID, userID string, privileged bool, now time.Time) error {
	used, err := a.ledger.CountGuildUsage(guildID, now.Add(-24*time.Hour), a.commandNames)
	if err != nil {
		return fmt.Errorf("count guild usage: %w", err)
	}
	if used >= int64(a.guildCap) {
		return ErrGuildCapExceeded
	}

	if !privileged {
		count, err := a.ledger.GetUserDailyUsage(userID, DayKey(now, a.loc))
		if err != nil {
			return fmt.Errorf("get user daily usage: %w", err)
		}
		if count >= a.userCap {
			return ErrUserCapExceeded
		}
	}

	return nil
}

// DayKey buckets a moment into a calendar day of the fixed reference
// timezone. Daily caps roll over at that zone's midnight, not UTC's and not
// the requester's.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
