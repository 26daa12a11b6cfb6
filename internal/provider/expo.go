package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"parentpal/internal/worker"
)

const expoPushURL = "https://exp.host/--/api/v2/push/send"

// ExpoClient sends push notifications through the Expo push service.
type ExpoClient struct {
	url         string
	accessToken string
	httpClient  *http.Client
}

func NewExpoClient(accessToken string) *ExpoClient {
	return &ExpoClient{
		url:         expoPushURL,
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound"`
	Badge int               `json:"badge"`
}

type expoTicket struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoResponse struct {
	Data expoTicket `json:"data"`
}

// Send delivers one push message. A DeviceNotRegistered ticket maps to
// worker.ErrDeviceNotRegistered so the dispatcher can treat it as terminal.
func (c *ExpoClient) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	msg := expoMessage{
		To:    token,
		Title: title,
		Body:  body,
		Data:  data,
		Sound: "default",
		Badge: 1,
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("expo push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("expo push server error: status %d", resp.StatusCode)
	}

	var out expoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode expo response: %w", err)
	}

	if out.Data.Status == "error" {
		if out.Data.Details.Error == "DeviceNotRegistered" {
			return worker.ErrDeviceNotRegistered
		}
		return fmt.Errorf("expo push rejected: %s", out.Data.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expo push failed: status %d", resp.StatusCode)
	}

	return nil
}
