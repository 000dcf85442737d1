package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harunnryd/voxbridge/pkg/errorsx"
	"github.com/harunnryd/voxbridge/pkg/resilience"
	"github.com/harunnryd/voxbridge/pkg/session"
)

// Routes understood by the automation webhook. The webhook multiplexes
// flows on a string discriminator.
const (
	RouteTranscript = "1"
	RouteScheduling = "3"
)

type request struct {
	Route  string `json:"route"`
	Number string `json:"number"`
	Data   string `json:"data"`
}

type response struct {
	Message string `json:"message"`
}

// Client calls the automation webhook collaborator: JSON in, JSON out,
// the message field used verbatim as user-facing text.
type Client struct {
	webhookURL string
	httpClient *http.Client
	retry      resilience.RetryPolicy
}

func NewClient(webhookURL string, retry resilience.RetryPolicy) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      retry,
	}
}

// Invoke runs one automation flow and returns its message text. The data
// payload is JSON-encoded into the route-specific data field.
func (c *Client) Invoke(ctx context.Context, route, number string, data any) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonWebhookCall)
	}
	body, err := json.Marshal(request{Route: route, Number: number, Data: string(encoded)})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonWebhookCall)
	}

	var message string
	err = c.retry.DoWithContext(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
		}
		var parsed response
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return errorsx.Wrap(err, errorsx.ReasonWebhookDecode)
		}
		message = parsed.Message
		return nil
	})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonWebhookCall)
	}
	return message, nil
}

// SendTranscript exports the accumulated call transcript. Called exactly
// once per call by the termination coordinator.
func (c *Client) SendTranscript(ctx context.Context, callID, callerNumber string, transcript []session.TranscriptLine) error {
	payload := map[string]any{
		"call_sid":   callID,
		"transcript": transcript,
	}
	_, err := c.Invoke(ctx, RouteTranscript, callerNumber, payload)
	return err
}
