package censor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// session is the state of one Triggering period. It is created after the
// microphone is muted and destroyed by guard.release.
type session struct {
	id      uuid.UUID
	started time.Time
	hold    time.Duration
	words   []string
	asset   string

	// overlayRequested is set before the show request is sent.
	overlayRequested bool
}

// guard owns the open session. release reverts the broadcast state and
// returns the controller to Idle; it runs once.
type guard struct {
	c        *Controller
	s        *session
	released bool
}

func (g *guard) release(ctx context.Context) error {
	if g.released {
		return nil
	}
	g.released = true

	err := g.c.revert(ctx, g.s)

	g.c.metrics.CensorDuration.Record(ctx, time.Since(g.s.started).Seconds())
	g.c.metrics.ActiveCensorSessions.Add(ctx, -1)

	g.c.mu.Lock()
	g.c.sess = nil
	g.c.mu.Unlock()
	g.c.state.Store(int32(Idle))
	return err
}

// SessionInfo describes the active session.
type SessionInfo struct {
	ID      string
	Started time.Time
	Hold    time.Duration
	Words   []string
	Asset   string
}

// Active returns the running session, if any.
func (c *Controller) Active() (SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return SessionInfo{}, false
	}
	s := c.sess
	return SessionInfo{
		ID:      s.id.String(),
		Started: s.started,
		Hold:    s.hold,
		Words:   append([]string(nil), s.words...),
		Asset:   s.asset,
	}, true
}
