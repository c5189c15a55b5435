// Package discord posts embed messages to a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/streakwatch/internal/connpool"
	"github.com/sells-group/streakwatch/internal/model"
	"github.com/sells-group/streakwatch/internal/resilience"
)

const maxErrorBody = 512

// Payload is the JSON body of a webhook execution.
type Payload struct {
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Content   string  `json:"content,omitempty"`
	Embeds    []Embed `json:"embeds"`
}

// Embed is a single rich message block.
type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields,omitempty"`
	Footer      *Footer `json:"footer,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

// Field is a name/value row inside an embed.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Footer is the small text at the bottom of an embed.
type Footer struct {
	Text string `json:"text"`
}

// Client executes webhooks over a shared connection pool.
type Client struct {
	doer connpool.Doer
}

// NewClient creates a webhook client that sends every request through doer.
func NewClient(doer connpool.Doer) *Client {
	return &Client{doer: doer}
}

// Doer returns the connection the client sends requests through.
func (c *Client) Doer() connpool.Doer {
	return c.doer
}

// Send posts payload to webhookURL. Only 200 and 204 count as delivered;
// anything else is a DeliveryFailed failure. Send never retries.
func (c *Client) Send(ctx context.Context, webhookURL string, payload Payload) error {
	if webhookURL == "" {
		return model.NewFailure(model.FailureConfigMissing, "discord: webhook url is required", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "discord: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return model.NewFailure(model.FailureConfigMissing, "discord: create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		kind := resilience.ClassifyTransport(ctx, err)
		if kind == model.FailureNetwork {
			kind = model.FailureDeliveryFailed
		}
		return model.NewFailure(kind, "discord: webhook request failed", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return model.StatusFailure(model.FailureDeliveryFailed, resp.StatusCode,
		fmt.Sprintf("discord: webhook rejected: %s", string(respBody)))
}
