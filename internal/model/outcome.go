package model

import "time"

// OutcomeStatus is the terminal state of a single monitor run.
type OutcomeStatus string

const (
	OutcomeSuccess         OutcomeStatus = "success"
	OutcomeAlertSent       OutcomeStatus = "alert_sent"
	OutcomeAlertSuppressed OutcomeStatus = "alert_suppressed"
	OutcomeFailure         OutcomeStatus = "failure"
)

// Remaining is the whole hours and minutes left before the UTC day resets.
type Remaining struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Outcome is the sole result a monitor run hands back to its caller.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	Username  string        `json:"username"`
	Day       string        `json:"day"`
	Count     int           `json:"count"`
	Remaining *Remaining    `json:"remaining,omitempty"`
	Streak    *int          `json:"streak,omitempty"`
	Failure   *Failure      `json:"failure,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Succeeded returns true unless the run ended in a Failure.
func (o Outcome) Succeeded() bool {
	return o.Status != OutcomeFailure
}

// SuccessOutcome reports a day that already has contributions.
func SuccessOutcome(count int) Outcome {
	return Outcome{Status: OutcomeSuccess, Count: count}
}

// AlertSentOutcome reports a zero-count day whose alert was acknowledged.
func AlertSentOutcome(remaining Remaining) Outcome {
	return Outcome{Status: OutcomeAlertSent, Count: 0, Remaining: &remaining}
}

// AlertSuppressedOutcome reports a zero-count day that was already alerted.
func AlertSuppressedOutcome(remaining Remaining) Outcome {
	return Outcome{Status: OutcomeAlertSuppressed, Count: 0, Remaining: &remaining}
}

// FailureOutcome wraps err as a failed run. Untyped errors are reported as
// network failures since every component classifies its own errors.
func FailureOutcome(err error) Outcome {
	f, ok := AsFailure(err)
	if !ok {
		f = NewFailure(FailureNetwork, err.Error(), err)
	}
	return Outcome{Status: OutcomeFailure, Failure: f}
}
