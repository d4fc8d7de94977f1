// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/counselkit/counsel-tui/internal/model"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the inference client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeConnection
	ErrTypeRejected
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning = &ClientError{Type: ErrTypeNotRunning, Message: "inference service is not running"}
	ErrTimeout    = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
)

// IsNotRunning checks if an error indicates the service is unreachable.
func IsNotRunning(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeNotRunning
	}
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeTimeout
	}
	return errors.Is(err, ErrTimeout)
}

// IsRejected checks if an error is a rejected submission.
func IsRejected(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeRejected
	}
	return false
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the inference client.
type ClientConfig struct {
	// BaseURL is the service base URL (default: http://127.0.0.1:8711).
	// Explicit IPv4 avoids IPv6 localhost resolution issues on Windows.
	BaseURL string

	// Timeout for non-streaming requests such as the readiness probe
	// (default: 10s).
	Timeout time.Duration

	// SubmitsPerSecond caps the outbound query rate (default: 1).
	SubmitsPerSecond float64

	// SubmitBurst is the burst allowance of the rate limiter (default: 3).
	SubmitBurst int
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:          "http://127.0.0.1:8711",
		Timeout:          10 * time.Second,
		SubmitsPerSecond: 1,
		SubmitBurst:      3,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the counsel inference service.
//
// Submit returns once the service has accepted or rejected the query; the
// resulting stream is consumed on a background goroutine that publishes
// events to the Hub returned by Events. The Client is safe for concurrent
// use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	hub        *Hub
	limiter    *rate.Limiter
}

// NewClient creates a new inference client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new inference client with custom
// configuration. Zero values fall back to defaults.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8711"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.SubmitsPerSecond == 0 {
		config.SubmitsPerSecond = 1
	}
	if config.SubmitBurst == 0 {
		config.SubmitBurst = 3
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		hub:        NewHub(),
		limiter:    rate.NewLimiter(rate.Limit(config.SubmitsPerSecond), config.SubmitBurst),
	}
}

// Events returns the hub delivering this client's stream events.
func (c *Client) Events() *Hub {
	return c.hub
}

// GetConfig returns the client configuration.
func (c *Client) GetConfig() *ClientConfig {
	return c.config
}

// =============================================================================
// READINESS PROBE
// =============================================================================

// CheckReady verifies that the inference service is reachable.
func (c *Client) CheckReady(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/healthz", nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from inference service: " + resp.Status,
		}
	}

	return nil
}

// =============================================================================
// QUERY SUBMISSION
// =============================================================================

// Submit sends a conversation to the service for a streamed answer.
//
// It blocks until the service accepts or rejects the request. On acceptance
// it returns nil and the stream is consumed in the background: every event
// is tagged with sessionID and published on the Hub, ending with either a
// CompleteEvent or an ErrorEvent. On rejection no events are published.
func (c *Client) Submit(ctx context.Context, sessionID uint64, turns []model.Message, matterRef string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &ClientError{Type: ErrTypeTimeout, Message: "cancelled while rate limited", Cause: err}
	}

	reqBody := QueryRequest{
		SessionID: sessionID,
		MatterRef: matterRef,
		Messages:  make([]Turn, 0, len(turns)),
		Stream:    true,
	}
	for _, t := range turns {
		reqBody.Messages = append(reqBody.Messages, Turn{
			Role:    t.Role.String(),
			Content: t.Content,
		})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	// A dedicated client without a timeout: the stream outlives any sane
	// request timeout, and cancellation flows through the context.
	streamClient := &http.Client{}

	// The caller's context governs the handshake only. The request context
	// also governs reading the response body, and the body belongs to the
	// background consumer once the service accepts — callers routinely
	// cancel or time out right after acceptance, which must not abort the
	// stream. So the request runs on a detached context, with a watcher
	// propagating caller cancellation until acceptance is known.
	streamCtx, cancelStream := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.config.BaseURL+"/api/query", bytes.NewReader(body))
	if err != nil {
		cancelStream()
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancelStream()
		case <-handshakeDone:
		}
	}()

	resp, err := streamClient.Do(req)
	close(handshakeDone)
	if err != nil {
		cancelStream()
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ErrTimeout
		}
		return ErrNotRunning
	}

	if resp.StatusCode != http.StatusOK {
		defer cancelStream()
		defer resp.Body.Close()
		var svcErr ServiceError
		if err := json.NewDecoder(resp.Body).Decode(&svcErr); err == nil && svcErr.Error != "" {
			return &ClientError{Type: ErrTypeRejected, Message: svcErr.Error}
		}
		return &ClientError{
			Type:    ErrTypeRejected,
			Message: "query rejected: " + resp.Status,
		}
	}

	go c.consumeStream(sessionID, resp, cancelStream)

	return nil
}

// consumeStream reads the accepted response stream and publishes events.
// Runs until the stream ends; the session-id guard on the consumer side
// handles anything delivered after the session was abandoned. Owns the
// stream context and releases it when done.
func (c *Client) consumeStream(sessionID uint64, resp *http.Response, cancelStream context.CancelFunc) {
	defer cancelStream()
	defer resp.Body.Close()

	sawTerminal := false
	reader := NewStreamReader(resp.Body)
	err := reader.Process(context.Background(), func(chunk StreamChunk) {
		switch chunk.Type {
		case chunkToken:
			c.hub.publishToken(TokenEvent{Session: sessionID, Text: chunk.Content})
		case chunkReasoning:
			c.hub.publishReasoning(TokenEvent{Session: sessionID, Text: chunk.Content})
		case chunkSources:
			c.hub.publishSources(SourcesEvent{Session: sessionID, Sources: chunk.Sources})
		case chunkStatus:
			c.hub.publishStatus(StatusEvent{Session: sessionID, Label: chunk.Label})
		case chunkDone:
			sawTerminal = true
			c.hub.publishComplete(CompleteEvent{Session: sessionID})
		case chunkError:
			sawTerminal = true
			c.hub.publishError(ErrorEvent{Session: sessionID, Message: chunk.Error})
		}
	})

	if sawTerminal {
		return
	}

	// A stream that dies without a terminal chunk is a failure: the
	// consumer must not be left waiting on a session that will never end.
	if err == nil {
		err = errors.New("stream ended without completion")
	}
	c.hub.publishError(ErrorEvent{
		Session: sessionID,
		Message: "response stream interrupted",
		Err:     err,
	})
}
