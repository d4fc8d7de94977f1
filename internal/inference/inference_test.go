// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselkit/counsel-tui/internal/model"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// newStreamServer serves the readiness probe and a fixed NDJSON stream.
func newStreamServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	})
	return httptest.NewServer(mux)
}

// collector accumulates hub events until a terminal event arrives.
type collector struct {
	mu        sync.Mutex
	tokens    []string
	reasoning []string
	sources   [][]string
	labels    []string
	failure   *ErrorEvent
	done      chan struct{}
}

func newCollector(hub *Hub) *collector {
	c := &collector{done: make(chan struct{})}
	hub.OnToken(func(ev TokenEvent) {
		c.mu.Lock()
		c.tokens = append(c.tokens, ev.Text)
		c.mu.Unlock()
	})
	hub.OnReasoning(func(ev TokenEvent) {
		c.mu.Lock()
		c.reasoning = append(c.reasoning, ev.Text)
		c.mu.Unlock()
	})
	hub.OnSources(func(ev SourcesEvent) {
		c.mu.Lock()
		c.sources = append(c.sources, ev.Sources)
		c.mu.Unlock()
	})
	hub.OnStatus(func(ev StatusEvent) {
		c.mu.Lock()
		c.labels = append(c.labels, ev.Label)
		c.mu.Unlock()
	})
	hub.OnComplete(func(ev CompleteEvent) {
		close(c.done)
	})
	hub.OnError(func(ev ErrorEvent) {
		c.mu.Lock()
		c.failure = &ev
		c.mu.Unlock()
		close(c.done)
	})
	return c
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal event")
	}
}

// =============================================================================
// PROBE TESTS
// =============================================================================

func TestCheckReady(t *testing.T) {
	srv := newStreamServer(t, nil)
	defer srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	assert.NoError(t, client.CheckReady(context.Background()))
}

func TestCheckReadyNotRunning(t *testing.T) {
	srv := newStreamServer(t, nil)
	srv.Close() // unreachable on purpose

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	err := client.CheckReady(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
}

// =============================================================================
// SUBMIT TESTS
// =============================================================================

func TestSubmitStreamsEvents(t *testing.T) {
	srv := newStreamServer(t, []string{
		`{"type":"status","label":"Researching"}`,
		`{"type":"token","content":"Unfair "}`,
		`{"type":"reasoning","content":"Checking ERA 1996"}`,
		`{"type":"token","content":"dismissal..."}`,
		`{"type":"sources","sources":["ERA 1996 s.94"]}`,
		`{"type":"done"}`,
	})
	defer srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, SubmitsPerSecond: 100})
	col := newCollector(client.Events())

	err := client.Submit(context.Background(), 7, []model.Message{
		model.NewUserMessage("What is unfair dismissal?"),
	}, "")
	require.NoError(t, err)

	col.wait(t)
	col.mu.Lock()
	defer col.mu.Unlock()

	assert.Equal(t, []string{"Unfair ", "dismissal..."}, col.tokens)
	assert.Equal(t, []string{"Checking ERA 1996"}, col.reasoning)
	assert.Equal(t, []string{"Researching"}, col.labels)
	require.Len(t, col.sources, 1)
	assert.Equal(t, []string{"ERA 1996 s.94"}, col.sources[0])
	assert.Nil(t, col.failure)
}

func TestSubmitRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"model is warming up"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, SubmitsPerSecond: 100})

	received := false
	client.Events().OnToken(func(TokenEvent) { received = true })

	err := client.Submit(context.Background(), 1, []model.Message{model.NewUserMessage("q")}, "")
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Contains(t, err.Error(), "model is warming up")
	assert.False(t, received, "no events may be published for a rejected submit")
}

func TestSubmitNotRunning(t *testing.T) {
	srv := newStreamServer(t, nil)
	srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, SubmitsPerSecond: 100})
	err := client.Submit(context.Background(), 1, []model.Message{model.NewUserMessage("q")}, "")
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
}

func TestSubmitStreamInterrupted(t *testing.T) {
	// Stream ends without a terminal chunk: the client must synthesize an
	// error event so the consumer is not stranded mid-session.
	srv := newStreamServer(t, []string{
		`{"type":"token","content":"partial"}`,
	})
	defer srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, SubmitsPerSecond: 100})
	col := newCollector(client.Events())

	err := client.Submit(context.Background(), 3, []model.Message{model.NewUserMessage("q")}, "")
	require.NoError(t, err)

	col.wait(t)
	col.mu.Lock()
	defer col.mu.Unlock()
	require.NotNil(t, col.failure)
	assert.Equal(t, uint64(3), col.failure.Session)
}

func TestSubmitStreamSurvivesCallerCancel(t *testing.T) {
	// Interactive callers cancel the Submit context as soon as acceptance
	// is known. The response body is read long after that, so the stream
	// must be detached from the caller's context: a slow generation has to
	// finish, not die with a synthetic interruption error.
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		f, _ := w.(http.Flusher)
		w.Write([]byte(`{"type":"token","content":"Unfair "}` + "\n"))
		if f != nil {
			f.Flush()
		}
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"type":"token","content":"dismissal..."}` + "\n"))
		w.Write([]byte(`{"type":"done"}` + "\n"))
		if f != nil {
			f.Flush()
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, SubmitsPerSecond: 100})
	col := newCollector(client.Events())

	ctx, cancel := context.WithCancel(context.Background())
	err := client.Submit(ctx, 1, []model.Message{model.NewUserMessage("q")}, "")
	require.NoError(t, err)
	cancel()

	col.wait(t)
	col.mu.Lock()
	defer col.mu.Unlock()
	assert.Nil(t, col.failure, "caller cancellation after acceptance must not abort the stream")
	assert.Equal(t, []string{"Unfair ", "dismissal..."}, col.tokens)
}

func TestSubmitCancelBeforeAcceptanceAborts(t *testing.T) {
	// Before acceptance the caller's context still rules: a handshake that
	// outlives the caller's patience returns an error and publishes nothing.
	accepted := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", func(w http.ResponseWriter, r *http.Request) {
		<-accepted // hold the handshake until the test is done
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(accepted)

	client := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, SubmitsPerSecond: 100})

	received := false
	client.Events().OnToken(func(TokenEvent) { received = true })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := client.Submit(ctx, 1, []model.Message{model.NewUserMessage("q")}, "")
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, received)
}

// =============================================================================
// HUB TESTS
// =============================================================================

func TestHubDisposerStopsDelivery(t *testing.T) {
	hub := NewHub()

	var got []string
	cancel := hub.OnToken(func(ev TokenEvent) { got = append(got, ev.Text) })

	hub.publishToken(TokenEvent{Text: "a"})
	cancel()
	hub.publishToken(TokenEvent{Text: "b"})
	cancel() // idempotent

	assert.Equal(t, []string{"a"}, got)
}

func TestHubDeliversInRegistrationOrder(t *testing.T) {
	hub := NewHub()

	var order []int
	hub.OnStatus(func(StatusEvent) { order = append(order, 1) })
	hub.OnStatus(func(StatusEvent) { order = append(order, 2) })

	hub.publishStatus(StatusEvent{Label: "x"})
	assert.Equal(t, []int{1, 2}, order)
}

// =============================================================================
// STREAM READER TESTS
// =============================================================================

func TestStreamReaderSkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"token","content":"ok"}`,
		`not json at all`,
		``,
		`{"type":"done"}`,
	}, "\n")

	var chunks []StreamChunk
	reader := NewStreamReader(strings.NewReader(input))
	err := reader.Process(context.Background(), func(c StreamChunk) {
		chunks = append(chunks, c)
	})

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "ok", chunks[0].Content)
	assert.Equal(t, "done", chunks[1].Type)
}

func TestStreamReaderHandlesMissingTrailingNewline(t *testing.T) {
	input := `{"type":"token","content":"tail"}`

	var chunks []StreamChunk
	reader := NewStreamReader(strings.NewReader(input))
	err := reader.Process(context.Background(), func(c StreamChunk) {
		chunks = append(chunks, c)
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "tail", chunks[0].Content)
}
