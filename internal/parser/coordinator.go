package parser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"parentpal/config"
	"parentpal/internal/model"
	"parentpal/pkg/metrics"
	"parentpal/pkg/util"
)

// Store capabilities the coordinator needs. The pgx repositories satisfy
// these; tests plug in fakes.
type MessageStore interface {
	ListUnprocessed(ctx context.Context) ([]model.InboundMessage, error)
	MarkProcessed(ctx context.Context, id string) error
}

type EventStore interface {
	ExistsBySourceMsgID(ctx context.Context, msgID string) (bool, error)
	Insert(ctx context.Context, e *model.Event) (string, error)
}

type ChildStore interface {
	ListByUser(ctx context.Context, userID string) ([]model.Child, error)
}

// Coordinator drives unprocessed messages through pattern extraction,
// generative escalation, and idempotent event persistence. One message is
// in flight at a time; failures are isolated per message.
type Coordinator struct {
	messages  MessageStore
	events    EventStore
	children  ChildStore
	extractor *PatternExtractor
	llm       *GenerativeParser
	generator TextGenerator
	cfg       config.ParserConfig
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
}

func NewCoordinator(
	messages MessageStore,
	events EventStore,
	children ChildStore,
	extractor *PatternExtractor,
	llm *GenerativeParser,
	generator TextGenerator,
	cfg config.ParserConfig,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		messages:  messages,
		events:    events,
		children:  children,
		extractor: extractor,
		llm:       llm,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Run polls for unprocessed messages until the context is cancelled. The
// generative backend is probed once up front; an unreachable backend is a
// startup failure, not a per-message one.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.generator.Healthy(ctx) {
		return ErrServiceUnavailable
	}

	idle := time.Duration(c.cfg.IdleWaitSeconds) * time.Second
	pause := time.Duration(c.cfg.BatchPauseSeconds) * time.Second

	c.logger.Info("Starting extraction loop")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := c.messages.ListUnprocessed(ctx)
		if err != nil {
			c.logger.Error("Failed to fetch unprocessed messages", zap.Error(err))
			c.sleep(ctx, idle)
			continue
		}

		if len(msgs) == 0 {
			c.sleep(ctx, idle)
			continue
		}

		c.logger.Info("Processing message batch", zap.Int("count", len(msgs)))
		c.ProcessBatch(ctx, msgs)
		c.sleep(ctx, pause)
	}
}

// ProcessBatch handles messages sequentially. A message that exhausts its
// retries is marked processed with a failure outcome and never aborts the
// rest of the batch.
func (c *Coordinator) ProcessBatch(ctx context.Context, msgs []model.InboundMessage) {
	for _, msg := range msgs {
		c.processMessage(ctx, msg)
	}
}

func (c *Coordinator) processMessage(ctx context.Context, msg model.InboundMessage) {
	delay := time.Duration(c.cfg.RetryDelaySeconds) * time.Second

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		err := c.attempt(ctx, msg)
		if err == nil {
			return
		}
		lastErr = err

		retryable, kind := util.IsRetryableError(err)
		c.logger.Error("Message processing attempt failed",
			zap.String("message_id", msg.ID),
			zap.Int("attempt", attempt),
			zap.String("error_kind", kind),
			zap.Error(err),
		)
		if !util.ShouldRetry(attempt, c.cfg.MaxRetries, retryable) {
			break
		}

		c.sleep(ctx, delay)
		delay *= 2
	}

	// Out of retries: terminal-state write still happens exactly once.
	c.logger.Error("Message failed after all retries, marking processed",
		zap.String("message_id", msg.ID),
		zap.Error(lastErr),
	)
	if err := c.messages.MarkProcessed(ctx, msg.ID); err != nil {
		c.logger.Error("Failed to mark message processed",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
	metrics.IncrementMessageProcessed("failed")
}

// attempt runs the full per-message flow once. Every step re-checks
// persisted state, so a retried attempt is itself idempotent.
func (c *Coordinator) attempt(ctx context.Context, msg model.InboundMessage) error {
	exists, err := c.events.ExistsBySourceMsgID(ctx, msg.ID)
	if err != nil {
		return err
	}
	if exists {
		c.logger.Info("Event already exists for message", zap.String("message_id", msg.ID))
		if err := c.messages.MarkProcessed(ctx, msg.ID); err != nil {
			return err
		}
		metrics.IncrementMessageProcessed("duplicate")
		return nil
	}

	candidate, confidence := c.extractor.Extract(msg.RawBody, msg.Subject)
	outcome := "regex"

	if confidence < c.cfg.EscalateBelow {
		c.logger.Info("Low confidence, escalating to generative parser",
			zap.String("message_id", msg.ID),
			zap.Float64("confidence", confidence),
		)
		llmStart := c.now()
		candidate, err = c.llm.Parse(ctx, msg.Subject, msg.RawBody)
		if err != nil {
			metrics.RecordLLMCallLatency("error", c.now().Sub(llmStart))
			return err
		}
		metrics.RecordLLMCallLatency("ok", c.now().Sub(llmStart))
		outcome = "llm"
	}

	if candidate == nil {
		return c.persistReviewPlaceholder(ctx, msg)
	}

	candidate.ChildID = c.findChildID(ctx, msg.UserID, msg.Subject, msg.RawBody)

	event := &model.Event{
		UserID:      msg.UserID,
		SourceMsgID: msg.ID,
		ChildID:     candidate.ChildID,
		Title:       candidate.Title,
		StartTS:     candidate.StartTS,
		EndTS:       candidate.EndTS,
		Location:    candidate.Location,
		PrepItems:   candidate.PrepItems,
		Status:      model.EventStatusPending,
	}
	if _, err := c.events.Insert(ctx, event); err != nil {
		return err
	}
	if err := c.messages.MarkProcessed(ctx, msg.ID); err != nil {
		return err
	}

	c.logger.Info("Message processed",
		zap.String("message_id", msg.ID),
		zap.String("event_id", event.ID),
		zap.String("outcome", outcome),
	)
	metrics.IncrementMessageProcessed(outcome)
	return nil
}

// persistReviewPlaceholder records that nothing could be extracted so a
// human can correct it later. The message still reaches its terminal state.
func (c *Coordinator) persistReviewPlaceholder(ctx context.Context, msg model.InboundMessage) error {
	now := c.now()
	event := &model.Event{
		UserID:      msg.UserID,
		SourceMsgID: msg.ID,
		Title:       fmt.Sprintf("Review: %s", msg.Subject),
		StartTS:     now,
		EndTS:       now,
		Status:      model.EventStatusNeedsReview,
	}
	if _, err := c.events.Insert(ctx, event); err != nil {
		return err
	}
	if err := c.messages.MarkProcessed(ctx, msg.ID); err != nil {
		return err
	}

	c.logger.Warn("Could not parse message, marked for review", zap.String("message_id", msg.ID))
	metrics.IncrementMessageProcessed("needs_review")
	return nil
}

// findChildID matches the user's child names against the message text,
// case-insensitive, first match wins. Lookup failures are non-fatal.
func (c *Coordinator) findChildID(ctx context.Context, userID, subject, body string) *string {
	children, err := c.children.ListByUser(ctx, userID)
	if err != nil {
		c.logger.Error("Failed to list children", zap.String("user_id", userID), zap.Error(err))
		return nil
	}

	text := strings.ToLower(subject + " " + body)
	for _, child := range children {
		if child.Name != "" && strings.Contains(text, strings.ToLower(child.Name)) {
			id := child.ID
			return &id
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
