package model

import "time"

const (
	ReminderStatusPending = "pending"
	ReminderStatusSent    = "sent"
	ReminderStatusFailed  = "failed"
)

// MaxReminderRetries bounds delivery attempts for a single reminder.
const MaxReminderRetries = 5

// Reminder is one scheduled notification slot for an event. Uniqueness on
// (EventID, NotifyAt) makes rescheduling idempotent.
type Reminder struct {
	ID         string
	EventID    string
	UserID     string
	NotifyAt   time.Time
	Message    string
	PushToken  *string
	SentAt     *time.Time
	Status     string
	RetryCount int
	ErrorMsg   *string
}
