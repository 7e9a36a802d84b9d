// Package usage groups generation-call accounting into time-windowed
// sessions. One user-visible action (a timeline load) fans out into dozens of
// calls; the tracker makes them reportable as a single aggregated event.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// DefaultWindow is the sliding reuse window: a StartSession within this much
// of the open session's start joins it instead of opening a new one.
const DefaultWindow = 5 * time.Minute

// Publisher receives closed sessions. Publishing is best effort; a failed
// publish never blocks accounting.
type Publisher interface {
	SaveUsageSession(ctx context.Context, session *models.UsageSession) error
}

// Tracker is the in-memory session window. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	window    time.Duration
	publisher Publisher
	current   *models.UsageSession

	// Injectable for tests.
	now func() time.Time
}

// NewTracker creates a Tracker. publisher may be nil, in which case closed
// sessions are only logged.
func NewTracker(window time.Duration, publisher Publisher) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window:    window,
		publisher: publisher,
		now:       time.Now,
	}
}

// StartSession returns the active session ID, reusing the open session when
// its start is within the reuse window, otherwise rotating to a fresh one.
// The displaced session, if any, is published.
func (t *Tracker) StartSession(ctx context.Context) uuid.UUID {
	t.mu.Lock()
	now := t.now().UTC()

	if t.current != nil && now.Sub(t.current.StartedAt) < t.window {
		id := t.current.ID
		t.mu.Unlock()
		return id
	}

	closed := t.closeLocked(now)
	t.current = &models.UsageSession{
		ID:        uuid.New(),
		StartedAt: now,
	}
	id := t.current.ID
	t.mu.Unlock()

	t.publish(ctx, closed)
	return id
}

// Record appends a call to the active session, opening one implicitly if
// needed. The call's session ID, entry ID, and timestamp are filled in here.
func (t *Tracker) Record(ctx context.Context, call models.CallUsage) {
	sessionID := t.StartSession(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || t.current.ID != sessionID {
		// Session rotated between StartSession and lock; drop into whatever
		// is current now rather than resurrecting a closed session.
		if t.current == nil {
			return
		}
		sessionID = t.current.ID
	}

	call.ID = uuid.New()
	call.SessionID = sessionID
	if call.CreatedAt.IsZero() {
		call.CreatedAt = t.now().UTC()
	}
	t.current.Calls = append(t.current.Calls, call)
}

// EndSession closes the active session so that a later, unrelated call
// starts a fresh one. The closed session is published.
func (t *Tracker) EndSession(ctx context.Context) {
	t.mu.Lock()
	closed := t.closeLocked(t.now().UTC())
	t.mu.Unlock()

	t.publish(ctx, closed)
}

// Current returns the active session ID, if any.
func (t *Tracker) Current() (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return uuid.Nil, false
	}
	return t.current.ID, true
}

// closeLocked detaches the current session, stamping its end time. Caller
// holds t.mu.
func (t *Tracker) closeLocked(now time.Time) *models.UsageSession {
	if t.current == nil {
		return nil
	}
	closed := t.current
	closed.EndedAt = &now
	t.current = nil
	return closed
}

func (t *Tracker) publish(ctx context.Context, session *models.UsageSession) {
	if session == nil {
		return
	}
	slog.Info("usage session closed",
		"session_id", session.ID,
		"calls", len(session.Calls),
		"total_tokens", session.TotalTokens(),
	)
	if t.publisher == nil {
		return
	}
	if err := t.publisher.SaveUsageSession(ctx, session); err != nil {
		slog.Error("publish usage session", "error", err, "session_id", session.ID)
	}
}
