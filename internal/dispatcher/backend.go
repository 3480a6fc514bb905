package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// GenerateRequest is the payload sent to the backend's /generate endpoint
// (spec.md §6: "POST <backend>/generate with {prompt, options}").
type GenerateRequest struct {
	Prompt  string          `json:"prompt"`
	Options GenerateOptions `json:"options"`
}

// GenerateOptions carries the backend-facing generation knobs. The backend
// treats these as hints; the Dispatcher never relies on it honoring them
// exactly, since the response text is parsed rather than trusted structurally.
type GenerateOptions struct {
	Model string `json:"model,omitempty"`
}

// GenerateResponse is the backend's raw reply: free-form text the Dispatcher
// must parse against the result schema, plus the model that produced it and
// why it stopped (spec.md §6).
type GenerateResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason"`
}

// Backend performs the actual conversation analysis. Implementations
// include the HTTP client below and a noop stub for tests (spec.md §4.4,
// grounded on this codebase's pattern of a narrow Caller-style interface
// in front of an outbound integration).
type Backend interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	Ping(ctx context.Context) error
}

// HTTPBackend calls an external LLM backend over HTTP.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
	model   string
	logger  *slog.Logger
}

// NewHTTPBackend creates an HTTPBackend targeting baseURL with the given
// per-request timeout.
func NewHTTPBackend(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		model:   "observatory-analyzer",
		logger:  logger,
	}
}

// Generate posts req to the backend's /generate endpoint and returns its
// opaque text response, untouched (spec.md §6: "the Dispatcher treats the
// response text as opaque until parsed against the result schema").
func (b *HTTPBackend) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	if req.Options.Model == "" {
		req.Options.Model = b.model
	}
	body, err := json.Marshal(req)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("encoding generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("building generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return GenerateResponse{}, &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return GenerateResponse{}, &TransportError{Cause: fmt.Errorf("backend returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return GenerateResponse{}, fmt.Errorf("backend returned %d: %s", resp.StatusCode, data)
	}

	var out GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return GenerateResponse{}, fmt.Errorf("decoding generate response envelope: %w", err)
	}
	return out, nil
}

// Ping checks backend reachability for the health endpoint (spec.md §6).
func (b *HTTPBackend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend health check returned %d", resp.StatusCode)
	}
	return nil
}

// TransportError marks a failure as a retryable transport/5xx condition
// (spec.md §4.4: only these, plus timeouts, are retried).
type TransportError struct{ Cause error }

func (e *TransportError) Error() string { return "backend transport error: " + e.Cause.Error() }
func (e *TransportError) Unwrap() error { return e.Cause }

// ParseError marks a backend response whose text couldn't be parsed into
// the result schema; this is never retried (spec.md §4.4 step 7, §7
// parse_error).
type ParseError struct{ Cause error }

func (e *ParseError) Error() string { return "backend response parse error: " + e.Cause.Error() }
func (e *ParseError) Unwrap() error { return e.Cause }
