// internal/throttle/admission_test.go
package throttle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsage struct {
	guildCount    int64
	guildErr      error
	userCount     int
	userErr       error
	guildCalls    int
	userCalls     int
	lastSince     time.Time
	lastDayKey    string
	lastGuildCmds []string
}

func (f *fakeUsage) CountGuildUsage(guildID string, since time.Time, commandNames []string) (int64, error) {
	f.guildCalls++
	f.lastSince = since
	f.lastGuildCmds = commandNames
	return f.guildCount, f.guildErr
}

func (f *fakeUsage) GetUserDailyUsage(userID, dayKey string) (int, error) {
	f.userCalls++
	f.lastDayKey = dayKey
	return f.userCount, f.userErr
}

func newTestAdmission(usage *fakeUsage, cooldowns *Cooldowns) *Admission {
	return NewAdmission(usage, cooldowns, 25, 10, time.UTC,
		[]string{"backscroll", "backscroll_private"})
}

func TestAdmission_Allows(t *testing.T) {
	usage := &fakeUsage{guildCount: 3, userCount: 2}
	a := newTestAdmission(usage, NewCooldowns(time.Minute))

	err := a.Check("g1", "u1", false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"backscroll", "backscroll_private"}, usage.lastGuildCmds)
}

func TestAdmission_DeniesDirectMessages(t *testing.T) {
	usage := &fakeUsage{}
	a := newTestAdmission(usage, NewCooldowns(time.Minute))

	err := a.Check("", "u1", false, time.Now())
	assert.ErrorIs(t, err, ErrDirectMessage)
	assert.Zero(t, usage.guildCalls, "context denial must not touch the ledger")
}

func TestAdmission_DeniesDuringCooldown(t *testing.T) {
	usage := &fakeUsage{}
	cooldowns := NewCooldowns(time.Minute)
	now := time.Now()
	cooldowns.Bump("u1", now)

	a := newTestAdmission(usage, cooldowns)
	err := a.Check("g1", "u1", false, now.Add(20*time.Second))

	var cooldownErr *CooldownError
	require.ErrorAs(t, err, &cooldownErr)
	assert.Equal(t, 40*time.Second, cooldownErr.Remaining)
	assert.Zero(t, usage.guildCalls, "cooldown denial must short-circuit the cap checks")
}

func TestAdmission_DeniesAtGuildCap(t *testing.T) {
	usage := &fakeUsage{guildCount: 25}
	a := newTestAdmission(usage, NewCooldowns(time.Minute))

	now := time.Now()
	err := a.Check("g1", "u1", false, now)
	assert.ErrorIs(t, err, ErrGuildCapExceeded)
	assert.Zero(t, usage.userCalls, "guild-cap denial must not evaluate the user cap")
	assert.WithinDuration(t, now.Add(-24*time.Hour), usage.lastSince, time.Second)
}

func TestAdmission_DeniesAtUserCap(t *testing.T) {
	usage := &fakeUsage{userCount: 10}
	a := newTestAdmission(usage, NewCooldowns(time.Minute))

	err := a.Check("g1", "u1", false, time.Now())
	assert.ErrorIs(t, err, ErrUserCapExceeded)
}

func TestAdmission_PrivilegedSkipsOnlyUserCap(t *testing.T) {
	usage := &fakeUsage{userCount: 50}
	a := newTestAdmission(usage, NewCooldowns(time.Minute))

	require.NoError(t, a.Check("g1", "admin", true, time.Now()))
	assert.Zero(t, usage.userCalls)

	// Still bound by the guild cap.
	usage.guildCount = 25
	assert.ErrorIs(t, a.Check("g1", "admin", true, time.Now()), ErrGuildCapExceeded)

	// And by the cooldown.
	cooldowns := NewCooldowns(time.Minute)
	now := time.Now()
	cooldowns.Bump("admin", now)
	a = newTestAdmission(&fakeUsage{}, cooldowns)
	var cooldownErr *CooldownError
	assert.ErrorAs(t, a.Check("g1", "admin", true, now), &cooldownErr)
}

func TestAdmission_LedgerErrorsPropagate(t *testing.T) {
	boom := errors.New("disk on fire")
	a := newTestAdmission(&fakeUsage{guildErr: boom}, NewCooldowns(time.Minute))
	assert.ErrorIs(t, a.Check("g1", "u1", false, time.Now()), boom)

	a = newTestAdmission(&fakeUsage{userErr: boom}, NewCooldowns(time.Minute))
	assert.ErrorIs(t, a.Check("g1", "u1", false, time.Now()), boom)
}

func TestDayKey_UsesReferenceTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 23:59 and 00:01 local, two minutes apart in real time, different days.
	before := time.Date(2025, 6, 10, 23, 59, 0, 0, loc)
	after := before.Add(2 * time.Minute)

	assert.Equal(t, "2025-06-10", DayKey(before, loc))
	assert.Equal(t, "2025-06-11", DayKey(after, loc))

	// In UTC those are the same calendar day; the reference zone wins.
	assert.Equal(t, DayKey(before.UTC(), loc), DayKey(before, loc))
	assert.NotEqual(t, DayKey(before, time.UTC), DayKey(before, loc))
}

func TestAdmission_UserCapUsesReferenceDayKey(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	usage := &fakeUsage{userCount: 0}
	a := NewAdmission(usage, NewCooldowns(time.Minute), 25, 10, loc,
		[]string{"backscroll"})

	now := time.Date(2025, 6, 10, 23, 59, 0, 0, loc)
	require.NoError(t, a.Check("g1", "u1", false, now))
	assert.Equal(t, "2025-06-10", usage.lastDayKey)

	require.NoError(t, a.Check("g1", "u1", false, now.Add(2*time.Minute)))
	assert.Equal(t, "2025-06-11", usage.lastDayKey)
}
