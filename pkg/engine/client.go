package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxbridge/pkg/errorsx"
)

// ErrUnavailable is returned when the session-creation handshake fails.
// A call must not proceed without a join address.
var ErrUnavailable = errors.New("voice engine unavailable")

const defaultBaseURL = "https://api.ultravox.ai"

// Client performs the engine-side HTTP handshake and opens the
// bidirectional socket against the returned join address.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
}

// CreateCall issues the session-creation handshake and returns the join
// address. Any non-success response is ErrUnavailable: the caller must
// not connect the caller to a half-configured agent.
func (c *Client) CreateCall(ctx context.Context, req CallRequest) (CallResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return CallResponse{}, errorsx.Wrap(err, errorsx.ReasonEngineHandshake)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/calls", bytes.NewReader(body))
	if err != nil {
		return CallResponse{}, errorsx.Wrap(err, errorsx.ReasonEngineHandshake)
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CallResponse{}, errorsx.Wrap(fmt.Errorf("%w: %w", ErrUnavailable, err), errorsx.ReasonEngineHandshake)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return CallResponse{}, errorsx.Wrap(
			fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(payload)),
			errorsx.ReasonEngineHandshake,
		)
	}
	var out CallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CallResponse{}, errorsx.Wrap(fmt.Errorf("%w: decode response: %w", ErrUnavailable, err), errorsx.ReasonEngineHandshake)
	}
	if out.JoinURL == "" {
		return CallResponse{}, errorsx.Wrap(fmt.Errorf("%w: missing join url", ErrUnavailable), errorsx.ReasonEngineHandshake)
	}
	return out, nil
}

// Join opens the engine socket against a join address.
func (c *Client) Join(ctx context.Context, joinURL string) (*Conn, error) {
	ws, _, err := c.dialer.DialContext(ctx, joinURL, nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonEngineDial)
	}
	return NewConn(ws), nil
}
