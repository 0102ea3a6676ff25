// Package mailer sends transactional email through a REST email API and
// composes the order confirmation and admin alert messages.
package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

const defaultTimeout = 10 * time.Second

// Attachment is a binary email attachment.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a templated HTML+text email.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// API is the transactional email surface.
type API interface {
	Send(ctx context.Context, msg Message) error
}

var _ API = (*Client)(nil)

// Client talks to the transactional email service's REST API.
type Client struct {
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
}

// ClientConfig configures an email Client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// From is the sender address for all outgoing mail.
	From    string
	Timeout time.Duration
}

// NewClient constructs an email API client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		from:    cfg.From,
		http:    &http.Client{Timeout: timeout},
	}
}

type sendPayload struct {
	From        string              `json:"from"`
	To          string              `json:"to"`
	Subject     string              `json:"subject"`
	HTML        string              `json:"html,omitempty"`
	Text        string              `json:"text,omitempty"`
	Attachments []attachmentPayload `json:"attachments,omitempty"`
}

type attachmentPayload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	// Content is base64-encoded.
	Content string `json:"content"`
}

// Send delivers one message.
func (c *Client) Send(ctx context.Context, msg Message) error {
	payload := sendPayload{
		From:    c.from,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	}
	for _, a := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, attachmentPayload{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     base64.StdEncoding.EncodeToString(a.Data),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal email")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "email request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("email api: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}
