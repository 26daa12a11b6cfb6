package model

import "time"

// Event status values. Status only moves forward:
// pending -> synced|failed, needs_review is terminal until manual correction.
const (
	EventStatusPending     = "pending"
	EventStatusSynced      = "synced"
	EventStatusFailed      = "failed"
	EventStatusNeedsReview = "needs_review"
)

type Event struct {
	ID          string
	UserID      string
	SourceMsgID string
	ChildID     *string
	Title       string
	StartTS     time.Time
	EndTS       time.Time
	Location    *string
	PrepItems   []string
	Status      string
	CalendarID  *string
	ErrorMsg    *string
	CreatedAt   time.Time
}

// CandidateEvent is the transient output of pattern or generative parsing.
// It is never persisted directly; the coordinator turns it into an Event.
type CandidateEvent struct {
	Title      string
	StartTS    time.Time
	EndTS      time.Time
	Location   *string
	PrepItems  []string
	Confidence float64
	ChildID    *string
}
