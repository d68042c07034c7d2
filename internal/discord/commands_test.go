package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestHasRoleMatchesMember(t *testing.T) {
	if hasRole(nil, "crt-role") {
		t.Fatalf("expected nil member to be unauthorized")
	}
	if hasRole(&discordgo.Member{Roles: []string{"support"}}, "crt-role") {
		t.Fatalf("expected member without the CRT role to be unauthorized")
	}
	if !hasRole(&discordgo.Member{Roles: []string{"support", "crt-role"}}, "crt-role") {
		t.Fatalf("expected member holding the CRT role to be authorized")
	}
}

func TestFormatStatsRendersKnownCounters(t *testing.T) {
	snap := map[string]float64{
		"ash_messages_processed_total": 42,
		"ash_alerts_sent_total":        3,
		"ash_sessions_active":          1,
	}
	got := formatStats(snap)
	want := "messages_processed=42 alerts_sent=3 sessions_active=1"
	if got != want {
		t.Fatalf("formatStats() = %q, want %q", got, want)
	}
}

func TestFormatStatsZeroForMissingCounters(t *testing.T) {
	got := formatStats(map[string]float64{})
	want := "messages_processed=0 alerts_sent=0 sessions_active=0"
	if got != want {
		t.Fatalf("formatStats() = %q, want %q", got, want)
	}
}

func TestDefinitionsDeclareAshCommandTree(t *testing.T) {
	if len(definitions) != 1 || definitions[0].Name != "ash" {
		t.Fatalf("expected a single top-level /ash command definition")
	}
	names := make(map[string]bool)
	for _, opt := range definitions[0].Options {
		names[opt.Name] = true
	}
	for _, want := range []string{"status", "optout", "optin", "health", "stats", "notes"} {
		if !names[want] {
			t.Fatalf("expected /ash subcommand %q to be declared", want)
		}
	}
}
