// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/counselkit/counsel-tui/internal/inference"
	"github.com/counselkit/counsel-tui/internal/model"
)

// =============================================================================
// PHASES
// =============================================================================

// Phase is the controller's position in the session state machine.
//
// An errored session is not a resting phase: the error collapses the
// controller back to PhaseIdle in the same transition, with the error
// retained in the snapshot's Err slot until the next successful Send.
type Phase int

const (
	PhaseIdle       Phase = iota // No session in flight
	PhaseConnecting              // Send issued, awaiting transport acceptance
	PhaseActive                  // Stream established, consuming events
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	default:
		return "unknown"
	}
}

// Busy reports whether a session is in flight.
func (p Phase) Busy() bool {
	return p == PhaseConnecting || p == PhaseActive
}

// =============================================================================
// TIMELINE
// =============================================================================

// Stage is one entry of the pipeline-stage timeline: a backend processing
// phase (e.g. "Researching") surfaced for user-visible progress.
type Stage struct {
	Label     string
	StartedAt time.Time
	Completed bool
}

// =============================================================================
// CAPABILITIES
// =============================================================================

// Transport submits one conversation for a streamed answer. A nil return
// means the service accepted the request; any error means it never started.
type Transport interface {
	Submit(ctx context.Context, sessionID uint64, turns []model.Message, matterRef string) error
}

// EventSource hands out revocable subscriptions to the five stream
// channels plus failures. *inference.Hub satisfies this.
type EventSource interface {
	OnToken(func(inference.TokenEvent)) func()
	OnReasoning(func(inference.TokenEvent)) func()
	OnSources(func(inference.SourcesEvent)) func()
	OnStatus(func(inference.StatusEvent)) func()
	OnComplete(func(inference.CompleteEvent)) func()
	OnError(func(inference.ErrorEvent)) func()
}

// Prober reports whether the backend is reachable. Queried once at
// controller creation.
type Prober interface {
	CheckReady(ctx context.Context) error
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is the read-only view exposed to the rendering layer. All slices
// are copies; consumers never mutate controller state.
type Snapshot struct {
	History   []model.Message
	Phase     Phase
	Err       error
	Answer    string
	Reasoning string
	Sources   []string
	Timeline  []Stage

	// ContentRev advances whenever the history grows or the in-progress
	// answer grows. It is a pure function of (history length, answer
	// length); the rendering layer scrolls to the newest content when it
	// observes a change.
	ContentRev uint64
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Config holds creation options for a Controller.
type Config struct {
	// MatterRef optionally scopes every query of this controller to a
	// case/matter in the backing case-management system.
	MatterRef string

	// MaxMessages caps how many finalized turns the controller retains
	// and replays to the transport. When the cap is exceeded the oldest
	// turns are dropped. Zero means unbounded.
	MaxMessages int
}

// Controller owns one conversational exchange at a time. All state is
// guarded by a single mutex: event handlers, Send, and snapshot reads are
// serialized, which is the Go rendition of the single-threaded event-loop
// model this design assumes.
type Controller struct {
	mu sync.Mutex

	transport   Transport
	matterRef   string
	maxMessages int

	// State machine
	phase  Phase
	seq    uint64 // last issued session id, monotonically increasing
	active uint64 // session id currently accepting events, 0 when none

	// Accumulation buffers, valid for the active session only
	answer     strings.Builder
	reasoning  strings.Builder
	sources    []string
	timeline   []Stage
	tokenCount int
	startedAt  time.Time

	// Finalized turns
	history []model.Message

	// Last failure; cleared at the start of the next accepted Send
	err error

	// Liveness. Once closed, handlers drop every event and Send refuses.
	closed      bool
	unsubscribe []func()
}

// NewController creates a controller wired to the given capabilities and
// acquires its event subscriptions as a unit. The prober is consulted once;
// if the backend is unreachable the error is surfaced in the snapshot so
// the UI can warn before the first Send. Callers must Close the controller
// when done with it.
func NewController(ctx context.Context, transport Transport, events EventSource, prober Prober, cfg Config) *Controller {
	c := &Controller{
		transport:   transport,
		matterRef:   cfg.MatterRef,
		maxMessages: cfg.MaxMessages,
		phase:       PhaseIdle,
	}

	if prober != nil {
		if err := prober.CheckReady(ctx); err != nil {
			c.err = err
		}
	}

	c.unsubscribe = []func(){
		events.OnToken(c.onToken),
		events.OnReasoning(c.onReasoning),
		events.OnSources(c.onSources),
		events.OnStatus(c.onStatus),
		events.OnComplete(c.onComplete),
		events.OnError(c.onError),
	}

	return c
}

// Close revokes the subscription set and marks the controller dead. Events
// delivered afterwards are ignored. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Send submits a user turn and opens a new session.
//
// The user turn is appended to history optimistically, before transport
// acceptance, so the input is reflected immediately even if the backend
// later fails. On rejection the turn stays in history (the user genuinely
// sent it), the phase returns to Idle, and the transport's error is both
// stored in the snapshot and returned; the caller decides whether to retry.
//
// A Send while a session is in flight is rejected with ErrBusy, never
// queued.
func (c *Controller) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase.Busy() {
		c.mu.Unlock()
		return ErrBusy
	}

	c.err = nil
	c.resetBuffersLocked()
	c.timeline = nil

	c.seq++
	sid := c.seq
	c.active = sid
	c.phase = PhaseConnecting
	c.startedAt = time.Now()

	c.history = append(c.history, model.NewUserMessage(content))
	c.pruneHistoryLocked()
	turns := make([]model.Message, len(c.history))
	copy(turns, c.history)
	matter := c.matterRef
	c.mu.Unlock()

	// The transport call happens outside the lock: it may block until the
	// service accepts or rejects, and events may start arriving meanwhile.
	err := c.transport.Submit(ctx, sid, turns, matter)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.active != sid {
		// The session was abandoned (Close, ClearMessages, LoadMessages, or
		// it already finished) while the submit was in flight.
		return nil
	}

	if err != nil {
		c.phase = PhaseIdle
		c.active = 0
		c.err = err
		return err
	}

	if c.phase == PhaseConnecting {
		c.phase = PhaseActive
	}
	return nil
}

// ClearMessages resets the controller for a new conversation: history,
// buffers, timeline, and error are wiped. An active session is abandoned
// silently; its trailing events fail the session-id check and are dropped.
func (c *Controller) ClearMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = nil
	c.resetBuffersLocked()
	c.timeline = nil
	c.err = nil
	c.active = 0
	c.phase = PhaseIdle
}

// LoadMessages replaces history wholesale with externally supplied
// finalized turns, e.g. when resuming a saved conversation. Like
// ClearMessages it abandons any active session silently.
func (c *Controller) LoadMessages(msgs []model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = make([]model.Message, len(msgs))
	copy(c.history, msgs)
	c.pruneHistoryLocked()
	c.resetBuffersLocked()
	c.timeline = nil
	c.err = nil
	c.active = 0
	c.phase = PhaseIdle
}

// Snapshot returns a copy of everything the rendering layer needs.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		History:    make([]model.Message, len(c.history)),
		Phase:      c.phase,
		Err:        c.err,
		Answer:     c.answer.String(),
		Reasoning:  c.reasoning.String(),
		ContentRev: uint64(len(c.history))<<32 | uint64(c.answer.Len()),
	}
	copy(snap.History, c.history)
	if len(c.timeline) > 0 {
		snap.Timeline = make([]Stage, len(c.timeline))
		copy(snap.Timeline, c.timeline)
	}
	if len(c.sources) > 0 {
		snap.Sources = make([]string, len(c.sources))
		copy(snap.Sources, c.sources)
	}
	return snap
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// acceptsLocked is the liveness-and-attribution gate every handler passes
// through: the controller must be alive, the event must carry the active
// session's id, and a session must actually be in flight. Stale events -
// from a torn-down controller, an abandoned session, or a previous session
// whose transport is still draining - produce zero observable change.
func (c *Controller) acceptsLocked(sid uint64) bool {
	if c.closed {
		return false
	}
	if sid == 0 || sid != c.active {
		return false
	}
	return c.phase.Busy()
}

func (c *Controller) onToken(ev inference.TokenEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acceptsLocked(ev.Session) {
		return
	}
	c.answer.WriteString(ev.Text)
	c.tokenCount++
}

func (c *Controller) onReasoning(ev inference.TokenEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acceptsLocked(ev.Session) {
		return
	}
	c.reasoning.WriteString(ev.Text)
}

func (c *Controller) onSources(ev inference.SourcesEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acceptsLocked(ev.Session) {
		return
	}
	// Last write wins: a later batch is a correction of the earlier one,
	// not an increment.
	c.sources = make([]string, len(ev.Sources))
	copy(c.sources, ev.Sources)
}

func (c *Controller) onStatus(ev inference.StatusEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acceptsLocked(ev.Session) {
		return
	}
	// Close the previous stage, open the next. This depends only on the
	// timeline itself, so interleaving with token events cannot break it.
	if n := len(c.timeline); n > 0 {
		c.timeline[n-1].Completed = true
	}
	c.timeline = append(c.timeline, Stage{
		Label:     ev.Label,
		StartedAt: time.Now(),
	})
}

func (c *Controller) onComplete(ev inference.CompleteEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acceptsLocked(ev.Session) {
		return
	}

	for i := range c.timeline {
		c.timeline[i].Completed = true
	}

	var sources []string
	if len(c.sources) > 0 {
		sources = make([]string, len(c.sources))
		copy(sources, c.sources)
	}
	msg := model.NewAssistantMessage(c.answer.String(), c.reasoning.String(), sources)
	msg.Duration = time.Since(c.startedAt)
	msg.TokenCount = c.tokenCount
	c.history = append(c.history, msg)
	c.pruneHistoryLocked()

	c.resetBuffersLocked()
	c.active = 0
	c.phase = PhaseIdle
}

func (c *Controller) onError(ev inference.ErrorEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acceptsLocked(ev.Session) {
		return
	}

	// Fatal to the session, not the controller: in-progress buffers are
	// discarded, history keeps the optimistic user turn.
	c.resetBuffersLocked()
	c.timeline = nil
	c.err = &StreamError{Message: ev.Message, Cause: ev.Err}
	c.active = 0
	c.phase = PhaseIdle
}

// pruneHistoryLocked drops the oldest turns when the retained history
// exceeds the configured cap.
func (c *Controller) pruneHistoryLocked() {
	if c.maxMessages <= 0 || len(c.history) <= c.maxMessages {
		return
	}
	excess := len(c.history) - c.maxMessages
	c.history = append(c.history[:0], c.history[excess:]...)
}

// resetBuffersLocked clears the per-session accumulation buffers. The
// timeline is handled separately: it survives completion (fully closed) so
// the last turn's stages stay visible, but is wiped on error and at the
// start of a new session.
func (c *Controller) resetBuffersLocked() {
	c.answer.Reset()
	c.reasoning.Reset()
	c.sources = nil
	c.tokenCount = 0
}
