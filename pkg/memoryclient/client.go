// Package memoryclient is the RPC client to the external vector/graph
// memory service (spec.md §6): HTTP+JSON rather than gRPC+protobuf (see
// DESIGN.md), wrapped in the same timeout + circuit breaker discipline
// the teacher applies to its own external LLM service call.
package memoryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
)

// Op is one of the four operations the memory service exposes.
type Op string

const (
	OpUpsertVector Op = "upsert_vector"
	OpQuerySimilar Op = "query_similar"
	OpGraphUpsert  Op = "graph_upsert"
	OpGraphQuery   Op = "graph_query"
)

// Request is the wire request shape (spec.md §6).
type Request struct {
	CorrelationID string `json:"correlation_id"`
	Op            Op     `json:"op"`
	Payload       any    `json:"payload"`
}

// Response is the wire response shape.
type Response struct {
	Ok           bool            `json:"ok"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Client calls the external memory service, retrying transient
// failures with exponential backoff and tripping a circuit breaker
// after CIRCUIT_BREAKER_FAILURE_THRESHOLD consecutive failures.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
}

// Settings configures the client's resilience knobs, sourced from
// Config (MEMORY_SERVICE_TIMEOUT, CIRCUIT_BREAKER_FAILURE_THRESHOLD,
// CIRCUIT_BREAKER_OPEN_DURATION).
type Settings struct {
	Timeout          time.Duration
	FailureThreshold uint32
	OpenDuration     time.Duration
	MaxRetries       uint64
}

func NewClient(baseURL string, settings Settings) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "memoryclient",
		Timeout: settings.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
	})
	maxRetries := settings.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: settings.Timeout},
		breaker:    breaker,
		maxRetries: maxRetries,
	}
}

// Call issues one RPC, retrying TransientIO-shaped failures (network
// errors, 5xx, ok:false with no explicit error_code) up to maxRetries
// times with exponential backoff, all gated by the circuit breaker.
func (c *Client) Call(ctx context.Context, correlationID string, op Op, payload any) (Response, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.callWithRetry(ctx, correlationID, op, payload)
	})
	if err != nil {
		if _, ok := asBreakerOpenErr(err); ok {
			return Response{}, domainerr.New(domainerr.TransientIO, correlationID, "memory service circuit breaker open")
		}
		return Response{}, err
	}
	return result.(Response), nil
}

func asBreakerOpenErr(err error) (error, bool) {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return err, true
	}
	return nil, false
}

func (c *Client) callWithRetry(ctx context.Context, correlationID string, op Op, payload any) (Response, error) {
	var resp Response
	operation := func() error {
		r, err := c.doCall(ctx, correlationID, op, payload)
		if err != nil {
			return err
		}
		resp = r
		if !resp.Ok && resp.ErrorCode == "" {
			// Ambiguous failure with no explicit error code: treat as
			// transient and retry.
			return fmt.Errorf("memoryclient: ambiguous failure: %s", resp.ErrorMessage)
		}
		return nil
	}

	expBackoff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return Response{}, domainerr.New(domainerr.TransientIO, correlationID, fmt.Sprintf("memory service call failed after retries: %v", err))
	}
	return resp, nil
}

func (c *Client) doCall(ctx context.Context, correlationID string, op Op, payload any) (Response, error) {
	body, err := json.Marshal(Request{CorrelationID: correlationID, Op: op, Payload: payload})
	if err != nil {
		return Response{}, fmt.Errorf("memoryclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("memoryclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("memoryclient: do request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("memoryclient: read response: %w", err)
	}

	if httpResp.StatusCode >= 500 {
		return Response{}, fmt.Errorf("memoryclient: server error %d: %s", httpResp.StatusCode, string(raw))
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("memoryclient: decode response: %w", err)
	}
	return resp, nil
}
