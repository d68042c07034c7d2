package cooldown

import (
	"testing"
	"time"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
)

func defaultWindows() Windows {
	return Windows{Medium: 15 * time.Minute, High: 10 * time.Minute, Critical: 5 * time.Minute}
}

func TestFirstAlertNeverSuppressed(t *testing.T) {
	g := New(defaultWindows())
	if g.ShouldSuppress("u1", severity.Medium) {
		t.Fatal("first alert should never be suppressed")
	}
}

func TestSameSeverityWithinWindowSuppressed(t *testing.T) {
	g := New(defaultWindows())
	fixed := time.Now()
	g.now = func() time.Time { return fixed }

	g.ShouldSuppress("u1", severity.Medium)
	if !g.ShouldSuppress("u1", severity.Medium) {
		t.Fatal("second alert at same instant should be suppressed")
	}
}

func TestHigherSeverityBypassesCooldown(t *testing.T) {
	g := New(defaultWindows())
	fixed := time.Now()
	g.now = func() time.Time { return fixed }

	g.ShouldSuppress("u1", severity.Medium)
	if g.ShouldSuppress("u1", severity.Critical) {
		t.Fatal("strictly higher severity must always bypass cooldown")
	}
}

func TestLowerSeverityAfterHigherStillSuppressed(t *testing.T) {
	g := New(defaultWindows())
	fixed := time.Now()
	g.now = func() time.Time { return fixed }

	g.ShouldSuppress("u1", severity.Critical)
	if !g.ShouldSuppress("u1", severity.Medium) {
		t.Fatal("lower severity within window of a higher one should be suppressed")
	}
}

func TestWindowExpiryLifts(t *testing.T) {
	g := New(defaultWindows())
	base := time.Now()
	g.now = func() time.Time { return base }
	g.ShouldSuppress("u1", severity.Medium)

	g.now = func() time.Time { return base.Add(16 * time.Minute) }
	if g.ShouldSuppress("u1", severity.Medium) {
		t.Fatal("expected cooldown to lift after the window elapses")
	}
}

func TestDifferentUsersIndependent(t *testing.T) {
	g := New(defaultWindows())
	g.ShouldSuppress("u1", severity.Critical)
	if g.ShouldSuppress("u2", severity.Medium) {
		t.Fatal("cooldown state must be per-user")
	}
}
