package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parentpal/internal/model"
)

type ReminderStore interface {
	Upsert(ctx context.Context, rem *model.Reminder) error
	ListDue(ctx context.Context, now time.Time) ([]model.Reminder, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time, note string) error
	RecordFailure(ctx context.Context, id string, retryCount int, errMsg string) error
	MarkFailed(ctx context.Context, id string, retryCount int, errMsg string) error
}

type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// PushTokenSource is the scheduler's view of the user store: it only needs
// the token to snapshot, not the whole row.
type PushTokenSource interface {
	PushToken(ctx context.Context, userID string) (*string, error)
}

// reminderOffsets are how far before an event's start each notification
// fires.
var reminderOffsets = []struct {
	before time.Duration
	desc   string
}{
	{24 * time.Hour, "24 hours"},
	{3 * time.Hour, "3 hours"},
	{30 * time.Minute, "30 minutes"},
}

// Scheduler derives time-offset reminders from an event. Persistence is an
// upsert keyed by (event_id, notify_at), so rescheduling the same event
// never duplicates slots.
type Scheduler struct {
	reminders ReminderStore
	users     PushTokenSource
	logger    *zap.Logger
	now       func() time.Time
}

func NewScheduler(reminders ReminderStore, users PushTokenSource, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		reminders: reminders,
		users:     users,
		logger:    logger,
		now:       time.Now,
	}
}

// Schedule writes the still-future reminder slots for the event. The push
// token is snapshotted now; a later token change does not rewrite existing
// rows except through a rescheduling pass.
func (s *Scheduler) Schedule(ctx context.Context, event *model.Event) error {
	pushToken, err := s.users.PushToken(ctx, event.UserID)
	if err != nil {
		return err
	}

	now := s.now()
	created := 0
	for _, offset := range reminderOffsets {
		notifyAt := event.StartTS.Add(-offset.before)
		if !notifyAt.After(now) {
			continue
		}

		message := fmt.Sprintf("Reminder: %s starts in %s", event.Title, offset.desc)
		if event.Location != nil && *event.Location != "" {
			message += fmt.Sprintf(" at %s", *event.Location)
		}

		rem := &model.Reminder{
			EventID:   event.ID,
			UserID:    event.UserID,
			NotifyAt:  notifyAt,
			Message:   message,
			PushToken: pushToken,
			Status:    model.ReminderStatusPending,
		}
		if err := s.reminders.Upsert(ctx, rem); err != nil {
			return err
		}
		created++
	}

	if created > 0 {
		s.logger.Info("Scheduled reminders",
			zap.String("event_id", event.ID),
			zap.Int("count", created),
		)
	} else {
		s.logger.Info("No future reminders needed", zap.String("event_id", event.ID))
	}
	return nil
}
