package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"parentpal/internal/model"
	"parentpal/internal/worker"
)

const (
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleCalendarURL = "https://www.googleapis.com/calendar/v3/calendars/primary/events"
)

// GoogleCalendarClient writes events to the user's primary calendar. Each
// call exchanges the user's refresh token for a short-lived access token;
// there is no token cache because the worker runs in batches, not per
// request.
type GoogleCalendarClient struct {
	clientID     string
	clientSecret string
	tokenURL     string
	calendarURL  string
	httpClient   *http.Client
}

func NewGoogleCalendarClient(clientID, clientSecret string) *GoogleCalendarClient {
	return &GoogleCalendarClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     googleTokenURL,
		calendarURL:  googleCalendarURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type calendarEventBody struct {
	Summary     string            `json:"summary"`
	Location    string            `json:"location,omitempty"`
	Description string            `json:"description,omitempty"`
	Start       calendarEventTime `json:"start"`
	End         calendarEventTime `json:"end"`
}

type calendarEventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// CreateEvent inserts a new calendar entry and returns the provider id.
func (c *GoogleCalendarClient) CreateEvent(ctx context.Context, refreshToken string, event *model.Event) (string, error) {
	accessToken, err := c.exchangeToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(buildCalendarBody(event))
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.calendarURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calendar insert failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("calendar insert failed: status %d", resp.StatusCode)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode calendar response: %w", err)
	}
	return created.ID, nil
}

// UpdateEvent rewrites an existing calendar entry. A 404 surfaces as
// worker.ErrCalendarNotFound so the dispatcher can fall back to create.
func (c *GoogleCalendarClient) UpdateEvent(ctx context.Context, refreshToken, calendarID string, event *model.Event) error {
	accessToken, err := c.exchangeToken(ctx, refreshToken)
	if err != nil {
		return err
	}

	body, err := json.Marshal(buildCalendarBody(event))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.calendarURL+"/"+calendarID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calendar update failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return worker.ErrCalendarNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("calendar update failed: status %d", resp.StatusCode)
	}
	return nil
}

func (c *GoogleCalendarClient) exchangeToken(ctx context.Context, refreshToken string) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange failed: status %d", resp.StatusCode)
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned empty access token")
	}
	return token.AccessToken, nil
}

func buildCalendarBody(event *model.Event) calendarEventBody {
	body := calendarEventBody{
		Summary: event.Title,
		Start: calendarEventTime{
			DateTime: event.StartTS.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: calendarEventTime{
			DateTime: event.EndTS.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
	if event.Location != nil {
		body.Location = *event.Location
	}
	if len(event.PrepItems) > 0 {
		lines := make([]string, 0, len(event.PrepItems)+1)
		lines = append(lines, "Items to bring:")
		for _, item := range event.PrepItems {
			lines = append(lines, "• "+item)
		}
		body.Description = strings.Join(lines, "\n")
	}
	return body
}
