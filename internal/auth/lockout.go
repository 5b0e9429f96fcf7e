package auth

import "time"

// LockoutPolicy decides whether an account is temporarily locked after
// repeated failed logins. A zero threshold or zero duration disables
// lockout entirely.
type LockoutPolicy struct {
	MaxFailedAttempts int
	Duration          time.Duration
}

// IsLocked reports whether an account with the given failure count and
// last attempt time is locked at instant now. The lock releases on its
// own once the duration has elapsed since the last attempt; a
// successful login is not required to clear it.
func (p LockoutPolicy) IsLocked(failedAttempts int, lastAttempt *time.Time, now time.Time) bool {
	if p.MaxFailedAttempts <= 0 || p.Duration <= 0 {
		return false
	}
	if failedAttempts < p.MaxFailedAttempts {
		return false
	}
	if lastAttempt == nil {
		return false
	}
	return lastAttempt.Add(p.Duration).After(now)
}
