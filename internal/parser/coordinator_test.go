package parser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parentpal/config"
	"parentpal/internal/model"
)

type fakeMessageStore struct {
	messages  []model.InboundMessage
	processed map[string]int
}

func newFakeMessageStore(msgs ...model.InboundMessage) *fakeMessageStore {
	return &fakeMessageStore{messages: msgs, processed: map[string]int{}}
}

func (f *fakeMessageStore) ListUnprocessed(ctx context.Context) ([]model.InboundMessage, error) {
	return f.messages, nil
}

func (f *fakeMessageStore) MarkProcessed(ctx context.Context, id string) error {
	f.processed[id]++
	return nil
}

type fakeEventStore struct {
	bySource   map[string]*model.Event
	insertErrs []error
	inserts    int
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{bySource: map[string]*model.Event{}}
}

func (f *fakeEventStore) ExistsBySourceMsgID(ctx context.Context, msgID string) (bool, error) {
	_, ok := f.bySource[msgID]
	return ok, nil
}

func (f *fakeEventStore) Insert(ctx context.Context, e *model.Event) (string, error) {
	f.inserts++
	if len(f.insertErrs) > 0 {
		err := f.insertErrs[0]
		f.insertErrs = f.insertErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if _, ok := f.bySource[e.SourceMsgID]; ok {
		return "", nil // conflict: no row written
	}
	e.ID = "evt-" + e.SourceMsgID
	f.bySource[e.SourceMsgID] = e
	return e.ID, nil
}

type fakeChildStore struct {
	children []model.Child
	err      error
}

func (f *fakeChildStore) ListByUser(ctx context.Context, userID string) ([]model.Child, error) {
	return f.children, f.err
}

func testParserConfig() config.ParserConfig {
	return config.ParserConfig{
		MinConfidence:     0.4,
		EscalateBelow:     0.7,
		MaxRetries:        3,
		IdleWaitSeconds:   10,
		BatchPauseSeconds: 5,
		RetryDelaySeconds: 1,
	}
}

func newTestCoordinator(msgs *fakeMessageStore, events *fakeEventStore, children ChildStore, gen *stubGenerator) *Coordinator {
	c := NewCoordinator(
		msgs,
		events,
		children,
		NewPatternExtractor(0),
		NewGenerativeParser(gen, "", zap.NewNop()),
		gen,
		testParserConfig(),
		zap.NewNop(),
	)
	c.sleep = func(ctx context.Context, d time.Duration) {}
	return c
}

func richMessage(id string) model.InboundMessage {
	return model.InboundMessage{
		ID:      id,
		UserID:  "user-1",
		Subject: "Re: Soccer Practice Tomorrow",
		RawBody: "On 2024-03-15.\nLocation: Community Field\nPlease bring: water, cleats\n",
	}
}

func TestHighConfidenceSkipsGenerativeParser(t *testing.T) {
	t.Parallel()

	msgs := newFakeMessageStore(richMessage("m1"))
	events := newFakeEventStore()
	gen := &stubGenerator{healthy: true}
	c := newTestCoordinator(msgs, events, &fakeChildStore{}, gen)

	c.ProcessBatch(context.Background(), msgs.messages)

	assert.Equal(t, 0, gen.calls)
	require.Contains(t, events.bySource, "m1")
	event := events.bySource["m1"]
	assert.Equal(t, "Soccer Practice Tomorrow", event.Title)
	assert.Equal(t, model.EventStatusPending, event.Status)
	assert.Equal(t, 1, msgs.processed["m1"])
}

func TestDuplicateMessageMarksProcessedWithoutSecondEvent(t *testing.T) {
	t.Parallel()

	msgs := newFakeMessageStore(richMessage("m1"))
	events := newFakeEventStore()
	events.bySource["m1"] = &model.Event{ID: "existing", SourceMsgID: "m1"}
	gen := &stubGenerator{healthy: true}
	c := newTestCoordinator(msgs, events, &fakeChildStore{}, gen)

	c.ProcessBatch(context.Background(), msgs.messages)

	assert.Equal(t, 0, events.inserts)
	assert.Equal(t, "existing", events.bySource["m1"].ID)
	assert.Equal(t, 1, msgs.processed["m1"])
}

func TestLowConfidenceEscalatesToGenerativeParser(t *testing.T) {
	t.Parallel()

	// Dates only: confidence 0.4, viable but below the escalation bar.
	msg := model.InboundMessage{
		ID:      "m2",
		UserID:  "user-1",
		Subject: "",
		RawBody: "something on 2024-03-15",
	}
	msgs := newFakeMessageStore(msg)
	events := newFakeEventStore()
	gen := &stubGenerator{healthy: true, reply: `{"title": "Gym Day", "start_date": "2024-03-15", "start_time": "09:00"}`}
	c := newTestCoordinator(msgs, events, &fakeChildStore{}, gen)

	c.ProcessBatch(context.Background(), msgs.messages)

	assert.Equal(t, 1, gen.calls)
	require.Contains(t, events.bySource, "m2")
	event := events.bySource["m2"]
	assert.Equal(t, "Gym Day", event.Title)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), event.StartTS)
	assert.Equal(t, 1, msgs.processed["m2"])
}

func TestUnparseableMessageGetsReviewPlaceholder(t *testing.T) {
	t.Parallel()

	msg := model.InboundMessage{
		ID:      "m3",
		UserID:  "user-1",
		Subject: "Lunch menu",
		RawBody: "nothing event-like",
	}
	msgs := newFakeMessageStore(msg)
	events := newFakeEventStore()
	gen := &stubGenerator{healthy: true, reply: "sorry, no JSON here"}
	c := newTestCoordinator(msgs, events, &fakeChildStore{}, gen)

	c.ProcessBatch(context.Background(), msgs.messages)

	assert.Equal(t, 1, gen.calls)
	require.Contains(t, events.bySource, "m3")
	event := events.bySource["m3"]
	assert.Equal(t, model.EventStatusNeedsReview, event.Status)
	assert.Equal(t, "Review: Lunch menu", event.Title)
	assert.Equal(t, 1, msgs.processed["m3"])
}

func TestTransientInsertFailureRetriesAndSucceeds(t *testing.T) {
	t.Parallel()

	msgs := newFakeMessageStore(richMessage("m4"))
	events := newFakeEventStore()
	events.insertErrs = []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
		nil,
	}
	gen := &stubGenerator{healthy: true}
	c := newTestCoordinator(msgs, events, &fakeChildStore{}, gen)

	c.ProcessBatch(context.Background(), msgs.messages)

	assert.Equal(t, 3, events.inserts)
	require.Contains(t, events.bySource, "m4")
	assert.Equal(t, 1, msgs.processed["m4"])
}

func TestExhaustedRetriesStillMarksProcessed(t *testing.T) {
	t.Parallel()

	msgs := newFakeMessageStore(richMessage("m5"), richMessage("m6"))
	events := newFakeEventStore()
	events.insertErrs = []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
		errors.New("connection reset"),
	}
	gen := &stubGenerator{healthy: true}
	c := newTestCoordinator(msgs, events, &fakeChildStore{}, gen)

	c.ProcessBatch(context.Background(), msgs.messages)

	// m5 burned all three attempts, yet reached its terminal state and
	// did not stop m6 from being processed.
	assert.NotContains(t, events.bySource, "m5")
	assert.Equal(t, 1, msgs.processed["m5"])
	assert.Contains(t, events.bySource, "m6")
	assert.Equal(t, 1, msgs.processed["m6"])
}

func TestChildAssociationFirstMatchWins(t *testing.T) {
	t.Parallel()

	msg := richMessage("m7")
	msg.RawBody += "Don't forget Emma's uniform."
	msgs := newFakeMessageStore(msg)
	events := newFakeEventStore()
	children := &fakeChildStore{children: []model.Child{
		{ID: "c1", UserID: "user-1", Name: "Liam"},
		{ID: "c2", UserID: "user-1", Name: "Emma"},
	}}
	gen := &stubGenerator{healthy: true}
	c := newTestCoordinator(msgs, events, children, gen)

	c.ProcessBatch(context.Background(), msgs.messages)

	event := events.bySource["m7"]
	require.NotNil(t, event)
	require.NotNil(t, event.ChildID)
	assert.Equal(t, "c2", *event.ChildID)
}

func TestChildLookupFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	msgs := newFakeMessageStore(richMessage("m8"))
	events := newFakeEventStore()
	children := &fakeChildStore{err: errors.New("db down")}
	gen := &stubGenerator{healthy: true}
	c := newTestCoordinator(msgs, events, children, gen)

	c.ProcessBatch(context.Background(), msgs.messages)

	event := events.bySource["m8"]
	require.NotNil(t, event)
	assert.Nil(t, event.ChildID)
	assert.Equal(t, 1, msgs.processed["m8"])
}

func TestRunFailsFastWhenGeneratorUnhealthy(t *testing.T) {
	t.Parallel()

	msgs := newFakeMessageStore()
	events := newFakeEventStore()
	gen := &stubGenerator{healthy: false}
	c := newTestCoordinator(msgs, events, &fakeChildStore{}, gen)

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}
