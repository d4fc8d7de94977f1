// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/counselkit/counsel-tui/internal/inference"
	"github.com/counselkit/counsel-tui/internal/model"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeSource records the controller's handlers and lets tests inject
// events directly, standing in for the inference hub.
type fakeSource struct {
	token     func(inference.TokenEvent)
	reasoning func(inference.TokenEvent)
	sources   func(inference.SourcesEvent)
	status    func(inference.StatusEvent)
	complete  func(inference.CompleteEvent)
	failure   func(inference.ErrorEvent)

	disposed int
}

func (f *fakeSource) OnToken(fn func(inference.TokenEvent)) func() {
	f.token = fn
	return func() { f.disposed++ }
}

func (f *fakeSource) OnReasoning(fn func(inference.TokenEvent)) func() {
	f.reasoning = fn
	return func() { f.disposed++ }
}

func (f *fakeSource) OnSources(fn func(inference.SourcesEvent)) func() {
	f.sources = fn
	return func() { f.disposed++ }
}

func (f *fakeSource) OnStatus(fn func(inference.StatusEvent)) func() {
	f.status = fn
	return func() { f.disposed++ }
}

func (f *fakeSource) OnComplete(fn func(inference.CompleteEvent)) func() {
	f.complete = fn
	return func() { f.disposed++ }
}

func (f *fakeSource) OnError(fn func(inference.ErrorEvent)) func() {
	f.failure = fn
	return func() { f.disposed++ }
}

// fakeTransport accepts or rejects submissions and records them.
type fakeTransport struct {
	err      error
	lastSID  uint64
	lastSent []model.Message
	submits  int
}

func (f *fakeTransport) Submit(_ context.Context, sid uint64, turns []model.Message, _ string) error {
	f.submits++
	f.lastSID = sid
	f.lastSent = turns
	return f.err
}

// readyProber always reports the backend reachable.
type readyProber struct{ err error }

func (p readyProber) CheckReady(context.Context) error { return p.err }

func newTestController(t *testing.T) (*Controller, *fakeSource, *fakeTransport) {
	t.Helper()
	src := &fakeSource{}
	tr := &fakeTransport{}
	c := NewController(context.Background(), tr, src, readyProber{}, Config{})
	t.Cleanup(c.Close)
	return c, src, tr
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestSendEmptyRejected(t *testing.T) {
	c, _, tr := newTestController(t)

	for _, input := range []string{"", "   ", "\n\t"} {
		err := c.Send(context.Background(), input)
		if !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Send(%q) = %v, want ErrEmptyMessage", input, err)
		}
	}

	snap := c.Snapshot()
	if len(snap.History) != 0 {
		t.Errorf("history should be unchanged, got %d entries", len(snap.History))
	}
	if snap.Phase != PhaseIdle {
		t.Errorf("phase = %v, want idle", snap.Phase)
	}
	if tr.submits != 0 {
		t.Errorf("transport should not be called, got %d submits", tr.submits)
	}
}

func TestSendWhileBusyRejected(t *testing.T) {
	c, src, _ := newTestController(t)

	if err := c.Send(context.Background(), "test"); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	src.token(inference.TokenEvent{Session: 1, Text: "partial"})

	err := c.Send(context.Background(), "again")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("second Send = %v, want ErrBusy", err)
	}
	if !IsValidation(err) {
		t.Error("ErrBusy should be a validation error")
	}

	// First session proceeds unaffected: no buffer was touched.
	snap := c.Snapshot()
	if snap.Answer != "partial" {
		t.Errorf("answer buffer = %q, want %q", snap.Answer, "partial")
	}
	if len(snap.History) != 1 {
		t.Errorf("history length = %d, want 1", len(snap.History))
	}

	src.complete(inference.CompleteEvent{Session: 1})
	snap = c.Snapshot()
	if len(snap.History) != 2 || snap.History[1].Content != "partial" {
		t.Errorf("first session should finalize normally, history = %+v", snap.History)
	}
}

// =============================================================================
// BUFFER ACCUMULATION
// =============================================================================

func TestAnswerBufferMonotonicity(t *testing.T) {
	c, src, _ := newTestController(t)

	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}

	tokens := []string{"The ", "claim ", "requires ", "two ", "years ", "of ", "service."}
	var want strings.Builder
	for i, tok := range tokens {
		src.token(inference.TokenEvent{Session: 1, Text: tok})
		want.WriteString(tok)
		if got := c.Snapshot().Answer; got != want.String() {
			t.Fatalf("after %d tokens, answer = %q, want %q", i+1, got, want.String())
		}
	}
}

func TestReasoningBufferSeparateFromAnswer(t *testing.T) {
	c, src, _ := newTestController(t)

	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	src.token(inference.TokenEvent{Session: 1, Text: "answer text"})
	src.reasoning(inference.TokenEvent{Session: 1, Text: "internal notes"})

	snap := c.Snapshot()
	if snap.Answer != "answer text" {
		t.Errorf("answer = %q", snap.Answer)
	}
	if snap.Reasoning != "internal notes" {
		t.Errorf("reasoning = %q", snap.Reasoning)
	}
}

func TestSourcesLastWriteWins(t *testing.T) {
	c, src, _ := newTestController(t)

	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	src.sources(inference.SourcesEvent{Session: 1, Sources: []string{"ERA 1996 s.94"}})
	src.sources(inference.SourcesEvent{Session: 1, Sources: []string{"ERA 1996 s.98", "Polkey v AE Dayton"}})

	snap := c.Snapshot()
	if len(snap.Sources) != 2 || snap.Sources[0] != "ERA 1996 s.98" {
		t.Errorf("sources = %v, want replacement batch", snap.Sources)
	}
}

// =============================================================================
// STALE-EVENT IMMUNITY
// =============================================================================

func TestStaleEventImmunity(t *testing.T) {
	c, src, _ := newTestController(t)

	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	src.token(inference.TokenEvent{Session: 1, Text: "live"})

	before := c.Snapshot()

	// Events for a session other than the active one: zero observable change.
	src.token(inference.TokenEvent{Session: 99, Text: "stale"})
	src.reasoning(inference.TokenEvent{Session: 99, Text: "stale"})
	src.sources(inference.SourcesEvent{Session: 99, Sources: []string{"stale"}})
	src.status(inference.StatusEvent{Session: 99, Label: "stale"})
	src.complete(inference.CompleteEvent{Session: 99})
	src.failure(inference.ErrorEvent{Session: 99, Message: "stale"})
	src.token(inference.TokenEvent{Session: 0, Text: "untagged"})

	after := c.Snapshot()
	if after.Answer != before.Answer || after.Reasoning != before.Reasoning ||
		len(after.Sources) != len(before.Sources) || len(after.Timeline) != len(before.Timeline) ||
		len(after.History) != len(before.History) || after.Phase != before.Phase || after.Err != nil {
		t.Errorf("stale events mutated state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestEventsAfterCompletionIgnored(t *testing.T) {
	c, src, _ := newTestController(t)

	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	src.token(inference.TokenEvent{Session: 1, Text: "done"})
	src.complete(inference.CompleteEvent{Session: 1})

	// The transport keeps draining; the session is over.
	src.token(inference.TokenEvent{Session: 1, Text: "trailing"})

	snap := c.Snapshot()
	if snap.Answer != "" {
		t.Errorf("answer buffer = %q, want empty after finalization", snap.Answer)
	}
	if snap.History[len(snap.History)-1].Content != "done" {
		t.Errorf("finalized content = %q", snap.History[len(snap.History)-1].Content)
	}
}

// =============================================================================
// TIMELINE
// =============================================================================

func TestTimelineWellFormedness(t *testing.T) {
	c, src, _ := newTestController(t)

	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}

	labels := []string{"Classifying", "Researching", "Drafting"}
	for i, label := range labels {
		src.status(inference.StatusEvent{Session: 1, Label: label})
		// Tokens interleaved with stages must not disturb the timeline.
		src.token(inference.TokenEvent{Session: 1, Text: "t"})

		timeline := c.Snapshot().Timeline
		if len(timeline) != i+1 {
			t.Fatalf("timeline length = %d, want %d", len(timeline), i+1)
		}
		open := 0
		for j, stage := range timeline {
			if !stage.Completed {
				open++
				if j != len(timeline)-1 {
					t.Errorf("open stage %q is not the most recent", stage.Label)
				}
			}
		}
		if open != 1 {
			t.Errorf("open stages = %d, want exactly 1", open)
		}
	}

	src.complete(inference.CompleteEvent{Session: 1})
	for _, stage := range c.Snapshot().Timeline {
		if !stage.Completed {
			t.Errorf("stage %q should be completed after finalization", stage.Label)
		}
	}
}

// =============================================================================
// FINALIZATION
// =============================================================================

func TestFinalizationEndToEnd(t *testing.T) {
	c, src, tr := newTestController(t)

	if err := c.Send(context.Background(), "What is unfair dismissal?"); err != nil {
		t.Fatal(err)
	}
	if tr.lastSID != 1 {
		t.Errorf("submitted session id = %d, want 1", tr.lastSID)
	}
	if len(tr.lastSent) != 1 || tr.lastSent[0].Content != "What is unfair dismissal?" {
		t.Errorf("submitted turns = %+v", tr.lastSent)
	}

	src.token(inference.TokenEvent{Session: 1, Text: "Unfair "})
	src.token(inference.TokenEvent{Session: 1, Text: "dismissal..."})
	src.status(inference.StatusEvent{Session: 1, Label: "Researching"})
	src.reasoning(inference.TokenEvent{Session: 1, Text: "Checking ERA 1996"})
	src.sources(inference.SourcesEvent{Session: 1, Sources: []string{"ERA 1996 s.94"}})
	src.complete(inference.CompleteEvent{Session: 1})

	snap := c.Snapshot()
	if snap.Phase != PhaseIdle {
		t.Errorf("phase = %v, want idle", snap.Phase)
	}
	if len(snap.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(snap.History))
	}

	user, assistant := snap.History[0], snap.History[1]
	if user.Role != model.RoleUser || user.Content != "What is unfair dismissal?" {
		t.Errorf("user turn = %+v", user)
	}
	if assistant.Role != model.RoleAssistant {
		t.Errorf("assistant role = %q", assistant.Role)
	}
	if assistant.Content != "Unfair dismissal..." {
		t.Errorf("assistant content = %q", assistant.Content)
	}
	if assistant.Reasoning != "Checking ERA 1996" {
		t.Errorf("assistant reasoning = %q", assistant.Reasoning)
	}
	if len(assistant.Sources) != 1 || assistant.Sources[0] != "ERA 1996 s.94" {
		t.Errorf("assistant sources = %v", assistant.Sources)
	}
	if assistant.TokenCount != 2 {
		t.Errorf("token count = %d, want 2", assistant.TokenCount)
	}

	// Buffers cleared, timeline fully closed.
	if snap.Answer != "" || snap.Reasoning != "" || snap.Sources != nil {
		t.Errorf("buffers not cleared: %+v", snap)
	}
	for _, stage := range snap.Timeline {
		if !stage.Completed {
			t.Errorf("stage %q left open", stage.Label)
		}
	}
}

// =============================================================================
// FAILURE SEMANTICS
// =============================================================================

func TestStreamErrorNonCorruption(t *testing.T) {
	c, src, _ := newTestController(t)

	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	src.token(inference.TokenEvent{Session: 1, Text: "partial "})
	src.status(inference.StatusEvent{Session: 1, Label: "Researching"})

	src.failure(inference.ErrorEvent{Session: 1, Message: "model crashed"})

	snap := c.Snapshot()
	if len(snap.History) != 1 {
		t.Errorf("history length = %d, want 1 (optimistic user turn retained)", len(snap.History))
	}
	if snap.Answer != "" || snap.Reasoning != "" || snap.Sources != nil || snap.Timeline != nil {
		t.Errorf("buffers not cleared on stream error: %+v", snap)
	}
	if snap.Phase != PhaseIdle {
		t.Errorf("phase = %v, want idle", snap.Phase)
	}
	if snap.Err == nil || !IsStream(snap.Err) {
		t.Errorf("err = %v, want StreamError", snap.Err)
	}

	// Recoverable: the next Send starts a fresh session and clears the error.
	if err := c.Send(context.Background(), "retry"); err != nil {
		t.Fatalf("retry Send failed: %v", err)
	}
	if snap := c.Snapshot(); snap.Err != nil {
		t.Errorf("error slot should clear on next Send, got %v", snap.Err)
	}
}

func TestTransportRejection(t *testing.T) {
	c, _, tr := newTestController(t)
	rejection := errors.New("service unavailable")
	tr.err = rejection

	err := c.Send(context.Background(), "q")
	if !errors.Is(err, rejection) {
		t.Fatalf("Send = %v, want transport rejection", err)
	}
	if IsValidation(err) || IsStream(err) {
		t.Error("transport rejection must not classify as validation or stream error")
	}

	snap := c.Snapshot()
	if snap.Phase != PhaseIdle {
		t.Errorf("phase = %v, want idle", snap.Phase)
	}
	if len(snap.History) != 1 {
		t.Errorf("optimistic user turn should remain, history = %d", len(snap.History))
	}
	if snap.Err == nil {
		t.Error("error slot should be set")
	}

	// The caller may retry with the same content.
	tr.err = nil
	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if got := c.Snapshot(); len(got.History) != 2 || got.Err != nil {
		t.Errorf("retry state: history=%d err=%v", len(got.History), got.Err)
	}
}

func TestProbeFailureSurfaced(t *testing.T) {
	src := &fakeSource{}
	tr := &fakeTransport{}
	probeErr := errors.New("connection refused")
	c := NewController(context.Background(), tr, src, readyProber{err: probeErr}, Config{})
	defer c.Close()

	if snap := c.Snapshot(); !errors.Is(snap.Err, probeErr) {
		t.Errorf("snapshot err = %v, want probe error", snap.Err)
	}
}

// =============================================================================
// RESET OPERATIONS
// =============================================================================

func TestClearMessagesAbandonsActiveSession(t *testing.T) {
	c, src, _ := newTestController(t)

	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	src.token(inference.TokenEvent{Session: 1, Text: "partial"})

	c.ClearMessages()

	snap := c.Snapshot()
	if len(snap.History) != 0 || snap.Answer != "" || snap.Err != nil || snap.Timeline != nil {
		t.Errorf("clear left state: %+v", snap)
	}
	if snap.Phase != PhaseIdle {
		t.Errorf("phase = %v, want idle", snap.Phase)
	}

	// Trailing events from the abandoned session are dropped.
	src.token(inference.TokenEvent{Session: 1, Text: "late"})
	src.complete(inference.CompleteEvent{Session: 1})
	snap = c.Snapshot()
	if snap.Answer != "" || len(snap.History) != 0 {
		t.Errorf("abandoned session's events mutated state: %+v", snap)
	}
}

func TestLoadMessagesReplacesHistory(t *testing.T) {
	c, src, _ := newTestController(t)

	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	src.token(inference.TokenEvent{Session: 1, Text: "partial"})

	saved := []model.Message{
		model.NewUserMessage("earlier question"),
		model.NewAssistantMessage("earlier answer", "", nil),
	}
	c.LoadMessages(saved)

	snap := c.Snapshot()
	if len(snap.History) != 2 || snap.History[0].Content != "earlier question" {
		t.Errorf("history = %+v", snap.History)
	}
	if snap.Answer != "" || snap.Phase != PhaseIdle {
		t.Errorf("load should reset the active session: %+v", snap)
	}

	// The active session was abandoned silently.
	src.complete(inference.CompleteEvent{Session: 1})
	if got := c.Snapshot(); len(got.History) != 2 {
		t.Errorf("abandoned completion appended to history: %d entries", len(got.History))
	}
}

// =============================================================================
// HISTORY CAP
// =============================================================================

func TestHistoryCappedAtMaxMessages(t *testing.T) {
	src := &fakeSource{}
	tr := &fakeTransport{}
	c := NewController(context.Background(), tr, src, readyProber{}, Config{MaxMessages: 4})
	defer c.Close()

	questions := []string{"first", "second", "third"}
	for i, q := range questions {
		if err := c.Send(context.Background(), q); err != nil {
			t.Fatal(err)
		}
		sid := uint64(i + 1)
		src.token(inference.TokenEvent{Session: sid, Text: "answer to " + q})
		src.complete(inference.CompleteEvent{Session: sid})
	}

	snap := c.Snapshot()
	if len(snap.History) != 4 {
		t.Fatalf("history length = %d, want 4", len(snap.History))
	}
	// The oldest exchange fell off; the newest two survive in order.
	if snap.History[0].Content != "second" || snap.History[2].Content != "third" {
		t.Errorf("pruned history kept the wrong turns: %+v", snap.History)
	}

	// The transport sees the capped window too.
	if len(tr.lastSent) > 4 {
		t.Errorf("submitted %d turns, want at most 4", len(tr.lastSent))
	}
}

func TestLoadMessagesPrunesToCap(t *testing.T) {
	src := &fakeSource{}
	tr := &fakeTransport{}
	c := NewController(context.Background(), tr, src, readyProber{}, Config{MaxMessages: 2})
	defer c.Close()

	saved := []model.Message{
		model.NewUserMessage("old question"),
		model.NewAssistantMessage("old answer", "", nil),
		model.NewUserMessage("recent question"),
		model.NewAssistantMessage("recent answer", "", nil),
	}
	c.LoadMessages(saved)

	snap := c.Snapshot()
	if len(snap.History) != 2 || snap.History[0].Content != "recent question" {
		t.Errorf("history = %+v, want the two newest turns", snap.History)
	}
}

func TestZeroMaxMessagesUnbounded(t *testing.T) {
	c, src, _ := newTestController(t)

	for i := 1; i <= 5; i++ {
		if err := c.Send(context.Background(), "q"); err != nil {
			t.Fatal(err)
		}
		src.complete(inference.CompleteEvent{Session: uint64(i)})
	}
	if got := len(c.Snapshot().History); got != 10 {
		t.Errorf("history length = %d, want 10", got)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestCloseRevokesSubscriptionsAndDropsEvents(t *testing.T) {
	src := &fakeSource{}
	tr := &fakeTransport{}
	c := NewController(context.Background(), tr, src, readyProber{}, Config{})

	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}

	c.Close()
	if src.disposed != 6 {
		t.Errorf("disposed = %d, want all 6 subscriptions revoked", src.disposed)
	}

	// Late deliveries after teardown: no mutation, no panic.
	src.token(inference.TokenEvent{Session: 1, Text: "late"})
	src.complete(inference.CompleteEvent{Session: 1})
	if snap := c.Snapshot(); snap.Answer != "" || len(snap.History) != 1 {
		t.Errorf("events after Close mutated state: %+v", snap)
	}

	if err := c.Send(context.Background(), "again"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}

	c.Close() // idempotent
	if src.disposed != 6 {
		t.Errorf("double Close re-ran disposers: %d", src.disposed)
	}
}

func TestSessionIDsIncreaseAcrossSends(t *testing.T) {
	c, src, tr := newTestController(t)

	for want := uint64(1); want <= 3; want++ {
		if err := c.Send(context.Background(), "q"); err != nil {
			t.Fatal(err)
		}
		if tr.lastSID != want {
			t.Errorf("session id = %d, want %d", tr.lastSID, want)
		}
		src.complete(inference.CompleteEvent{Session: want})
	}
}

// =============================================================================
// CONSUMER SIGNAL
// =============================================================================

func TestContentRevAdvancesOnNewContent(t *testing.T) {
	c, src, _ := newTestController(t)

	rev0 := c.Snapshot().ContentRev
	if err := c.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	rev1 := c.Snapshot().ContentRev
	if rev1 <= rev0 {
		t.Errorf("ContentRev should advance on history growth: %d -> %d", rev0, rev1)
	}

	src.token(inference.TokenEvent{Session: 1, Text: "tok"})
	rev2 := c.Snapshot().ContentRev
	if rev2 <= rev1 {
		t.Errorf("ContentRev should advance on answer growth: %d -> %d", rev1, rev2)
	}

	src.status(inference.StatusEvent{Session: 1, Label: "stage"})
	rev3 := c.Snapshot().ContentRev
	if rev3 != rev2 {
		t.Errorf("ContentRev should ignore non-content events: %d -> %d", rev2, rev3)
	}

	src.complete(inference.CompleteEvent{Session: 1})
	rev4 := c.Snapshot().ContentRev
	if rev4 <= rev3 {
		t.Errorf("ContentRev should advance on finalization: %d -> %d", rev3, rev4)
	}
}
