// internal/throttle/errors.go
package throttle

import (
	"errors"
	"fmt"
	"time"
)

// Denial reasons. Each is terminal and leaves every counter untouched.
var (
	// ErrDirectMessage means the request did not come from inside a guild.
	ErrDirectMessage = errors.New("command only works inside a server")

	// ErrGuildCapExceeded means the guild used up its rolling 24h quota.
	// It carries no reset time; the window simply rolls.
	ErrGuildCapExceeded = errors.New("server reached its daily summary limit")

	// ErrUserCapExceeded means the user used up today's quota. Privileged
	// users never receive it.
	ErrUserCapExceeded = errors.New("user reached their daily summary limit")
)

// CooldownError is returned while the user's cooldown is still running.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("on cooldown for another %ds", int(e.Remaining.Seconds()+0.5))
}
