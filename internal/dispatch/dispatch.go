// Package dispatch implements the Alert Dispatcher (§4.8): turns a
// classification decision into a posted alert, consulting the Cooldown
// Guard first and handing the result to the Auto-Initiate Manager.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/autoinitiate"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/cooldown"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/nlp"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/policy"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/telemetry"
)

const truncateLen = 500

// Alert is everything needed to build and post one alert, independent of
// the chat platform (§4.8 step 2).
type Alert struct {
	UserID            string
	OriginalText      string
	OriginalMessageID string
	OriginalChannelID string
	Result            nlp.Result
	Route             policy.Route
	OptedOut          bool
}

// Posted is what the chat-platform poster returns once the alert embed is
// live.
type Posted struct {
	MessageID string
	ChannelID string
}

// poster abstracts the chat-platform specifics (embed construction, button
// attachment, CRT mention) so this package has no discordgo dependency.
type poster interface {
	PostAlert(ctx context.Context, alert Alert) (Posted, error)
	DMCRTLead(ctx context.Context, alert Alert, postErr error) error
}

// preferences is the subset of the Preferences Store the dispatcher needs,
// used only to annotate the embed's opt-out indicator (§4.8 step 2).
type preferences interface {
	IsOptedOut(ctx context.Context, userID string) (bool, error)
}

// Dispatcher is the Alert Dispatcher.
type Dispatcher struct {
	cooldown *cooldown.Guard
	prefs    preferences
	poster   poster
	manager  *autoinitiate.Manager
	delay    time.Duration
	logger   *slog.Logger
}

// New builds a Dispatcher. delay is the auto-initiate window T.
func New(guard *cooldown.Guard, prefs preferences, poster poster, manager *autoinitiate.Manager, delay time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{cooldown: guard, prefs: prefs, poster: poster, manager: manager, delay: delay, logger: logger}
}

// Dispatch runs the full dispatch sequence for one routed alert (§4.8).
// Dispatch never blocks message ingestion: callers should invoke it from a
// goroutine or async task, not inline with classification.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) {
	if !alert.Route.Alert {
		return
	}

	if d.cooldown.ShouldSuppress(alert.UserID, alert.Result.Severity) {
		telemetry.AlertsSuppressedTotal.WithLabelValues("cooldown").Inc()
		return
	}

	optedOut, err := d.prefs.IsOptedOut(ctx, alert.UserID)
	if err != nil {
		d.logger.Warn("checking opt-out before dispatch", "user_id", alert.UserID, "error", err)
	}
	alert.OriginalText = truncate(alert.OriginalText, truncateLen)
	alert.OptedOut = optedOut

	posted, err := d.poster.PostAlert(ctx, alert)
	if err != nil {
		d.logger.Error("posting alert, falling back to CRT lead dm", "user_id", alert.UserID, "error", err)
		if dmErr := d.poster.DMCRTLead(ctx, alert, err); dmErr != nil {
			d.logger.Error("crt lead fallback dm also failed, dropping alert post (history entry retained)",
				"user_id", alert.UserID, "error", dmErr)
		}
		return
	}

	telemetry.AlertsSentTotal.WithLabelValues(alert.Result.Severity.String(), posted.ChannelID).Inc()
	d.logger.Info("alert dispatched", "user_id", alert.UserID, "alert_id", posted.MessageID,
		"severity", alert.Result.Severity.String(), "channel_id", posted.ChannelID)

	now := time.Now()
	pending := autoinitiate.PendingAlert{
		AlertMessageID:    posted.MessageID,
		AlertChannelID:    posted.ChannelID,
		UserID:            alert.UserID,
		OriginalMessageID: alert.OriginalMessageID,
		OriginalChannelID: alert.OriginalChannelID,
		Severity:          alert.Result.Severity,
		SeverityRaw:       alert.Result.Severity.String(),
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(d.delay).Unix(),
	}
	d.manager.Track(ctx, pending)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// SeverityColor returns the Discord embed color for a severity, used by the
// chat adapter when building the alert embed (§4.8 step 2).
func SeverityColor(sev severity.Severity) int {
	switch sev {
	case severity.Critical:
		return 0xE02424 // red
	case severity.High:
		return 0xF97316 // orange
	case severity.Medium:
		return 0xEAB308 // yellow
	default:
		return 0x6B7280 // gray
	}
}

// AutoInitiatedColor is the accent color applied when an alert embed is
// annotated as auto-initiated (§4.9: "purple accent").
const AutoInitiatedColor = 0x8B5CF6

// FormatSummary renders a one-line alert summary: severity, crisis score,
// and confidence.
func FormatSummary(alert Alert) string {
	return fmt.Sprintf("Severity: %s | Score: %.2f | Confidence: %.2f",
		alert.Result.Severity, alert.Result.CrisisScore, alert.Result.Confidence)
}
