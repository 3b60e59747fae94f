package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/familyspace/callcore/internal/callstate"
)

// startDeadline, stopDeadline, and statusDeadline bound RecorderBackend
// calls per spec.md §5.
const (
	startDeadline  = 60 * time.Second
	stopDeadline   = 30 * time.Second
	statusDeadline = 5 * time.Second
)

// Backend is the RecorderBackend capability: the external headless-browser
// recording service this core does not implement.
type Backend interface {
	Start(ctx context.Context, groupID, callID string, kind callstate.Kind, callbackAuth, apiBase string) error
	Stop(ctx context.Context, callID string, kind callstate.Kind) error
	Status(ctx context.Context, callID string) (running bool, err error)
}

// startRequest is the payload sent to the recorder backend's start endpoint.
type startRequest struct {
	GroupID      string `json:"group_id"`
	CallID       string `json:"call_id"`
	Kind         string `json:"kind"`
	CallbackAuth string `json:"callback_auth"`
	APIBase      string `json:"api_base"`
}

type stopRequest struct {
	CallID string `json:"call_id"`
	Kind   string `json:"kind"`
}

type statusResponse struct {
	Running bool `json:"running"`
}

// envelope is the recorder backend's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// HTTPBackend is an HTTP-based Backend implementation.
type HTTPBackend struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPBackend creates a Backend that calls baseURL. Each method enforces
// its own per-call deadline on top of whatever the caller's ctx carries.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		httpClient: &http.Client{},
		baseURL:    baseURL,
	}
}

// Start implements Backend.
func (b *HTTPBackend) Start(ctx context.Context, groupID, callID string, kind callstate.Kind, callbackAuth, apiBase string) error {
	ctx, cancel := context.WithTimeout(ctx, startDeadline)
	defer cancel()

	req := startRequest{GroupID: groupID, CallID: callID, Kind: string(kind), CallbackAuth: callbackAuth, APIBase: apiBase}
	_, err := b.post(ctx, "/v1/recordings/start", req)
	return err
}

// Stop implements Backend.
func (b *HTTPBackend) Stop(ctx context.Context, callID string, kind callstate.Kind) error {
	ctx, cancel := context.WithTimeout(ctx, stopDeadline)
	defer cancel()

	req := stopRequest{CallID: callID, Kind: string(kind)}
	_, err := b.post(ctx, "/v1/recordings/stop", req)
	return err
}

// Status implements Backend.
func (b *HTTPBackend) Status(ctx context.Context, callID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, statusDeadline)
	defer cancel()

	body, err := b.post(ctx, "/v1/recordings/status", map[string]string{"call_id": callID})
	if err != nil {
		return false, err
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return false, fmt.Errorf("recorder: decoding status response: %w", err)
	}
	return status.Running, nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("recorder: marshalling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("recorder: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrBackendTransport, err)
	}

	var env envelope
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrBackendTransport, env.Error)
		}
		return nil, fmt.Errorf("%w: status %d", ErrBackendTransport, resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrBackendTransport, err)
	}
	return env.Data, nil
}
