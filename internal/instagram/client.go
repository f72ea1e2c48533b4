package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultAPIBase = "https://graph.instagram.com/v24.0"

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("instagram api error (status %d, code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("instagram api error (status %d): %s", e.Status, e.Message)
}

// Client sends DMs through the Graph messaging endpoint.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBase
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	Recipient   recipient `json:"recipient"`
	Message     message   `json:"message"`
	AccessToken string    `json:"access_token"`
}

type recipient struct {
	ID string `json:"id"`
}

type message struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts text to recipientID. Every failure comes back as an error;
// transport problems are wrapped, API refusals are *APIError.
func (c *Client) Send(ctx context.Context, recipientID, text string, creds Credentials) error {
	if creds.AccessToken == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(sendRequest{
		Recipient:   recipient{ID: recipientID},
		Message:     message{Text: text},
		AccessToken: creds.AccessToken,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/me/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send dm: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode, Message: "Unknown error"}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != nil {
		if er.Error.Message != "" {
			apiErr.Message = er.Error.Message
		}
		apiErr.Code = er.Error.Code
	}
	return apiErr
}
