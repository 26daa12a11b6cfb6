package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parentpal/internal/model"
	"parentpal/internal/worker"
)

func strptr(s string) *string { return &s }

func testEvent() *model.Event {
	return &model.Event{
		ID:        "evt-1",
		UserID:    "user-1",
		Title:     "Soccer Practice",
		StartTS:   time.Date(2024, 3, 15, 15, 30, 0, 0, time.UTC),
		EndTS:     time.Date(2024, 3, 15, 17, 0, 0, 0, time.UTC),
		Location:  strptr("Community Field"),
		PrepItems: []string{"water bottle", "cleats"},
	}
}

// tokenHandler serves the OAuth refresh exchange on /token and delegates
// everything else to the calendar handler.
func newGcalTestServer(t *testing.T, calendar http.HandlerFunc) (*httptest.Server, *GoogleCalendarClient) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "client-id", r.Form.Get("client_id"))
		require.Equal(t, "refresh-tok", r.Form.Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]string{"access_token": "access-tok"})
	})
	mux.HandleFunc("/", calendar)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	c := NewGoogleCalendarClient("client-id", "client-secret")
	c.tokenURL = server.URL + "/token"
	c.calendarURL = server.URL + "/events"
	c.httpClient = server.Client()
	return server, c
}

func TestCreateEventBody(t *testing.T) {
	t.Parallel()

	var got calendarEventBody
	_, c := newGcalTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer access-tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"id": "gcal-1"})
	})

	id, err := c.CreateEvent(context.Background(), "refresh-tok", testEvent())
	require.NoError(t, err)
	assert.Equal(t, "gcal-1", id)

	assert.Equal(t, "Soccer Practice", got.Summary)
	assert.Equal(t, "Community Field", got.Location)
	assert.Equal(t, "Items to bring:\n• water bottle\n• cleats", got.Description)
	assert.Equal(t, "2024-03-15T15:30:00Z", got.Start.DateTime)
	assert.Equal(t, "2024-03-15T17:00:00Z", got.End.DateTime)
	assert.Equal(t, "UTC", got.Start.TimeZone)
}

func TestCreateEventNoExtras(t *testing.T) {
	t.Parallel()

	var got calendarEventBody
	_, c := newGcalTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"id": "gcal-2"})
	})

	event := testEvent()
	event.Location = nil
	event.PrepItems = nil
	_, err := c.CreateEvent(context.Background(), "refresh-tok", event)
	require.NoError(t, err)
	assert.Empty(t, got.Location)
	assert.Empty(t, got.Description)
}

func TestUpdateEventTargetsStoredID(t *testing.T) {
	t.Parallel()

	var path, method string
	_, c := newGcalTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		method = r.Method
		w.WriteHeader(http.StatusOK)
	})

	err := c.UpdateEvent(context.Background(), "refresh-tok", "gcal-1", testEvent())
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/events/gcal-1", path)
}

func TestUpdateEventNotFound(t *testing.T) {
	t.Parallel()

	_, c := newGcalTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.UpdateEvent(context.Background(), "refresh-tok", "gone-123", testEvent())
	assert.ErrorIs(t, err, worker.ErrCalendarNotFound)
}

func TestTokenExchangeFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	c := NewGoogleCalendarClient("client-id", "client-secret")
	c.tokenURL = server.URL + "/token"
	c.calendarURL = server.URL + "/events"
	c.httpClient = server.Client()

	_, err := c.CreateEvent(context.Background(), "bad-tok", testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token exchange failed")
}
