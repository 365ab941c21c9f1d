package production

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Decision is the auto-retry classification of a failed episode or clip.
type Decision string

const (
	DecisionEligible          Decision = "eligible"
	DecisionTooYoung          Decision = "too_young"
	DecisionMaxRetriesReached Decision = "max_retries_reached"
	DecisionTooOld            Decision = "too_old"
	DecisionNotFailed         Decision = "not_failed"
)

// RetryPolicy bounds automatic recovery of failed work.
type RetryPolicy struct {
	MaxRetries   int
	Cooldown     time.Duration
	AbandonAfter time.Duration
}

// Eligibility decides whether failed work may be re-enqueued now.
// Exhaustion is checked before age, and abandonment before cooldown.
// A failure with no recorded time is treated as old enough to retry.
func (p RetryPolicy) Eligibility(failed bool, retryCount int, lastFailedAt *time.Time, now time.Time) Decision {
	if !failed {
		return DecisionNotFailed
	}
	if retryCount >= p.MaxRetries {
		return DecisionMaxRetriesReached
	}
	if lastFailedAt == nil {
		return DecisionEligible
	}
	age := now.Sub(*lastFailedAt)
	if age > p.AbandonAfter {
		return DecisionTooOld
	}
	if age < p.Cooldown {
		return DecisionTooYoung
	}
	return DecisionEligible
}

// Exhausted reports whether failed work will never be retried automatically.
func (p RetryPolicy) Exhausted(terminal bool, retryCount int, lastFailedAt *time.Time, now time.Time) bool {
	if terminal {
		return true
	}
	switch p.Eligibility(true, retryCount, lastFailedAt, now) {
	case DecisionMaxRetriesReached, DecisionTooOld:
		return true
	}
	return false
}

const (
	baseBackoff = 10 * time.Second
	maxBackoff  = 10 * time.Minute
)

// Backoff returns the delay before a retryable job runs again:
// 10s * 2^attempt, capped at ten minutes.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 16 {
		return maxBackoff
	}
	d := baseBackoff * time.Duration(1<<attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Truncate shortens msg to at most n runes, marking the cut with an ellipsis.
func Truncate(msg string, n int) string {
	msg = strings.TrimSpace(msg)
	if n <= 0 || utf8.RuneCountInString(msg) <= n {
		return msg
	}
	r := []rune(msg)
	return string(r[:n-1]) + "…"
}
