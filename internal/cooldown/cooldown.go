// Package cooldown implements the per-user alert suppression window. State
// is in-process only (§5): a restart resets it, which is acceptable — the
// worst case is one extra alert, never a missed one.
package cooldown

import (
	"sync"
	"time"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/userlock"
)

// Windows maps a severity to its suppression window.
type Windows struct {
	Medium   time.Duration
	High     time.Duration
	Critical time.Duration
}

func (w Windows) window(sev severity.Severity) time.Duration {
	switch sev {
	case severity.Critical:
		return w.Critical
	case severity.High:
		return w.High
	case severity.Medium:
		return w.Medium
	default:
		return 0
	}
}

type state struct {
	lastAlertAt time.Time
	lastSeverity severity.Severity
}

// Guard is the Cooldown Guard. Thread safety is via a striped lock keyed by
// user id (internal/userlock), so concurrent alerts for different users
// never contend; the backing map itself still needs its own mutex since a
// Go map isn't safe for concurrent access even when callers are
// individually serialised per key.
type Guard struct {
	locks   *userlock.Keyed
	mapMu   sync.Mutex
	windows Windows
	state   map[string]state
	now     func() time.Time
}

// New builds a Guard with the given per-severity windows.
func New(windows Windows) *Guard {
	return &Guard{
		locks:   userlock.New(),
		windows: windows,
		state:   make(map[string]state),
		now:     time.Now,
	}
}

// ShouldSuppress reports whether an alert of sev for userID should be
// suppressed: true iff the last alert was within window(sev) of now AND sev
// is no higher than the last alert's severity. A strictly higher severity
// always fires and resets the timer (§4.7, §8 property 8).
//
// This also records the alert attempt: callers must call ShouldSuppress
// exactly once per candidate alert, since it both checks and updates state.
func (g *Guard) ShouldSuppress(userID string, sev severity.Severity) bool {
	var suppress bool
	g.locks.With(userID, func() {
		g.mapMu.Lock()
		st, ok := g.state[userID]
		g.mapMu.Unlock()

		now := g.now()
		if ok && sev <= st.lastSeverity && now.Sub(st.lastAlertAt) < g.windows.window(sev) {
			suppress = true
			return
		}

		g.mapMu.Lock()
		g.state[userID] = state{lastAlertAt: now, lastSeverity: sev}
		g.mapMu.Unlock()
	})
	return suppress
}
