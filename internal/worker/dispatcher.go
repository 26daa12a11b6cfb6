package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"parentpal/internal/model"
	"parentpal/pkg/metrics"
)

// ErrDeviceNotRegistered means the push destination is permanently dead.
// Retrying it is pointless, so the reminder is treated as delivered.
var ErrDeviceNotRegistered = errors.New("device not registered")

// ErrCalendarNotFound is returned by an update against a calendar entry
// the provider no longer knows, triggering fallback-to-create.
var ErrCalendarNotFound = errors.New("calendar event not found")

// PushSender delivers one notification to a device token.
type PushSender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// CalendarClient is the external calendar surface. The refresh token is
// the per-user credential; callers resolve it before calling.
type CalendarClient interface {
	CreateEvent(ctx context.Context, refreshToken string, event *model.Event) (string, error)
	UpdateEvent(ctx context.Context, refreshToken, calendarID string, event *model.Event) error
}

type EventSyncStore interface {
	ListPending(ctx context.Context) ([]model.Event, error)
	MarkSynced(ctx context.Context, id string, calendarID *string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// SendGuard is a best-effort cross-process claim so concurrently polling
// workers don't double-send within one cycle. Nil disables it.
type SendGuard interface {
	AcquireOnce(ctx context.Context, reminderID string) bool
}

const pushTitle = "ParentPal Reminder"

// Dispatcher advances pending events (calendar sync + reminder creation)
// and delivers due reminders with a bounded retry counter.
type Dispatcher struct {
	events    EventSyncStore
	reminders ReminderStore
	users     UserStore
	scheduler *Scheduler
	push      PushSender
	calendar  CalendarClient
	guard     SendGuard
	logger    *zap.Logger
	now       func() time.Time
}

func NewDispatcher(
	events EventSyncStore,
	reminders ReminderStore,
	users UserStore,
	scheduler *Scheduler,
	push PushSender,
	calendar CalendarClient,
	guard SendGuard,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		events:    events,
		reminders: reminders,
		users:     users,
		scheduler: scheduler,
		push:      push,
		calendar:  calendar,
		guard:     guard,
		logger:    logger,
		now:       time.Now,
	}
}

// RunOnce performs a single batch pass: sync pending events, then deliver
// due reminders. Suitable for a ticker or external cron trigger.
func (d *Dispatcher) RunOnce(ctx context.Context) {
	d.ProcessEvents(ctx)
	d.ProcessReminders(ctx)
}

// ProcessEvents handles every pending event sequentially; one event's
// failure never aborts the batch.
func (d *Dispatcher) ProcessEvents(ctx context.Context) {
	events, err := d.events.ListPending(ctx)
	if err != nil {
		d.logger.Error("Failed to fetch pending events", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	d.logger.Info("Processing pending events", zap.Int("count", len(events)))
	for i := range events {
		if err := d.processEvent(ctx, &events[i]); err != nil {
			d.logger.Error("Failed to process event",
				zap.String("event_id", events[i].ID),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) processEvent(ctx context.Context, event *model.Event) error {
	// Calendar sync is best-effort: failures leave calendar_id unset and
	// never block reminder scheduling.
	calendarID := d.syncCalendar(ctx, event)

	if err := d.scheduler.Schedule(ctx, event); err != nil {
		if markErr := d.events.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			d.logger.Error("Failed to mark event failed",
				zap.String("event_id", event.ID),
				zap.Error(markErr),
			)
		}
		return err
	}

	return d.events.MarkSynced(ctx, event.ID, calendarID)
}

// syncCalendar creates or updates the external calendar entry. A stale
// stored id (provider reports not found on update) falls back to create.
func (d *Dispatcher) syncCalendar(ctx context.Context, event *model.Event) *string {
	user, err := d.users.FindByID(ctx, event.UserID)
	if err != nil {
		d.logger.Error("Failed to resolve user for calendar sync",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		metrics.IncrementCalendarSync("error")
		return nil
	}
	if user == nil || user.GoogleRefreshToken == nil || *user.GoogleRefreshToken == "" {
		d.logger.Info("No calendar credential for user, skipping sync",
			zap.String("event_id", event.ID),
			zap.String("user_id", event.UserID),
		)
		metrics.IncrementCalendarSync("skipped")
		return nil
	}
	token := *user.GoogleRefreshToken

	if event.CalendarID != nil && *event.CalendarID != "" {
		err := d.calendar.UpdateEvent(ctx, token, *event.CalendarID, event)
		if err == nil {
			metrics.IncrementCalendarSync("updated")
			return event.CalendarID
		}
		if !errors.Is(err, ErrCalendarNotFound) {
			d.logger.Error("Calendar update failed",
				zap.String("event_id", event.ID),
				zap.String("calendar_id", *event.CalendarID),
				zap.Error(err),
			)
			metrics.IncrementCalendarSync("error")
			return nil
		}
		d.logger.Warn("Calendar entry gone, creating a new one",
			zap.String("event_id", event.ID),
			zap.String("calendar_id", *event.CalendarID),
		)
	}

	id, err := d.calendar.CreateEvent(ctx, token, event)
	if err != nil {
		d.logger.Error("Calendar create failed",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		metrics.IncrementCalendarSync("error")
		return nil
	}
	metrics.IncrementCalendarSync("created")
	return &id
}

// ProcessReminders delivers every due reminder sequentially.
func (d *Dispatcher) ProcessReminders(ctx context.Context) {
	due, err := d.reminders.ListDue(ctx, d.now())
	if err != nil {
		d.logger.Error("Failed to fetch due reminders", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	d.logger.Info("Processing due reminders", zap.Int("count", len(due)))
	for i := range due {
		rem := &due[i]
		if d.guard != nil && !d.guard.AcquireOnce(ctx, rem.ID) {
			continue
		}
		if err := d.sendReminder(ctx, rem); err != nil {
			d.logger.Error("Failed to handle reminder",
				zap.String("reminder_id", rem.ID),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) sendReminder(ctx context.Context, rem *model.Reminder) error {
	if rem.PushToken == nil || *rem.PushToken == "" {
		d.logger.Warn("No push token for reminder", zap.String("reminder_id", rem.ID))
		metrics.IncrementPushSend("no_token")
		return d.reminders.MarkSent(ctx, rem.ID, d.now(), "No push token")
	}

	data := map[string]string{
		"type":        "event_reminder",
		"event_id":    rem.EventID,
		"reminder_id": rem.ID,
	}
	err := d.push.Send(ctx, *rem.PushToken, pushTitle, rem.Message, data)
	if err == nil {
		d.logger.Info("Push notification sent", zap.String("reminder_id", rem.ID))
		metrics.IncrementPushSend("sent")
		return d.reminders.MarkSent(ctx, rem.ID, d.now(), "")
	}

	if errors.Is(err, ErrDeviceNotRegistered) {
		d.logger.Warn("Device not registered, treating as delivered",
			zap.String("reminder_id", rem.ID),
		)
		metrics.IncrementPushSend("unregistered")
		return d.reminders.MarkSent(ctx, rem.ID, d.now(), "Device not registered")
	}

	retryCount := rem.RetryCount + 1
	if retryCount >= model.MaxReminderRetries {
		d.logger.Error("Reminder failed after max retries",
			zap.String("reminder_id", rem.ID),
			zap.Int("retry_count", retryCount),
			zap.Error(err),
		)
		metrics.IncrementPushSend("failed")
		return d.reminders.MarkFailed(ctx, rem.ID, retryCount, err.Error())
	}

	d.logger.Info("Transient push failure, will retry on next scan",
		zap.String("reminder_id", rem.ID),
		zap.Int("retry_count", retryCount),
		zap.Error(err),
	)
	metrics.IncrementPushSend("retry")
	return d.reminders.RecordFailure(ctx, rem.ID, retryCount, err.Error())
}
