// Package line is a minimal LINE Messaging API client: push, reply,
// profile lookup, and message content download.
package line

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIBaseURL  = "https://api.line.me"
	defaultDataBaseURL = "https://api-data.line.me"
)

// Message is a sendable LINE message. Only the fields for its Type are
// populated.
type Message struct {
	Type               string `json:"type"`
	Text               string `json:"text,omitempty"`
	OriginalContentURL string `json:"originalContentUrl,omitempty"`
	PreviewImageURL    string `json:"previewImageUrl,omitempty"`
}

func TextMessage(text string) Message {
	return Message{Type: "text", Text: text}
}

func ImageMessage(originalURL string) Message {
	return Message{Type: "image", OriginalContentURL: originalURL, PreviewImageURL: originalURL}
}

// Profile is the subset of a LINE user profile this system stores.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
}

type Client struct {
	channelToken  string
	channelSecret string
	apiBaseURL    string
	dataBaseURL   string
	httpClient    *http.Client
}

func NewClient(channelToken, channelSecret string) *Client {
	return &Client{
		channelToken:  channelToken,
		channelSecret: channelSecret,
		apiBaseURL:    defaultAPIBaseURL,
		dataBaseURL:   defaultDataBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithBaseURLs overrides the API endpoints. Tests point these at a fake
// server.
func (c *Client) WithBaseURLs(apiBaseURL, dataBaseURL string) *Client {
	c.apiBaseURL = strings.TrimSuffix(apiBaseURL, "/")
	c.dataBaseURL = strings.TrimSuffix(dataBaseURL, "/")
	return c
}

// VerifySignature checks the X-Line-Signature header against the raw
// request body.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if c.channelSecret == "" {
		return false
	}
	sum := sha256.Sum256(append([]byte(c.channelSecret), body...))
	expected := base64.StdEncoding.EncodeToString(sum[:])
	received := strings.TrimSpace(strings.TrimPrefix(signature, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}

// Push delivers messages to a user. Delivery is best effort: callers
// log the returned error and move on, since a failed push must never
// roll back a committed state change.
func (c *Client) Push(ctx context.Context, to string, messages ...Message) error {
	payload := map[string]interface{}{
		"to":       to,
		"messages": messages,
	}
	return c.post(ctx, "/v2/bot/message/push", payload)
}

// Reply answers an inbound event using its reply token.
func (c *Client) Reply(ctx context.Context, replyToken string, messages ...Message) error {
	payload := map[string]interface{}{
		"replyToken": replyToken,
		"messages":   messages,
	}
	return c.post(ctx, "/v2/bot/message/reply", payload)
}

// GetProfile fetches a user's display name and picture.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiBaseURL+"/v2/bot/profile/"+userID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.channelToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get profile: status %d, body: %s", resp.StatusCode, string(body))
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

// GetMessageContent downloads the binary content of a message, e.g. an
// uploaded photo.
func (c *Client) GetMessageContent(ctx context.Context, messageID string) ([]byte, error) {
	url := c.dataBaseURL + "/v2/bot/message/" + messageID + "/content"
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.channelToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get message content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get message content: status %d, body: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message content: %w", err)
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiBaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.channelToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to send message: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}
