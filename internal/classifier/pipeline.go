// Package classifier implements the Classifier Pipeline: it attaches
// history and channel sensitivity to a raw NLP result and turns it into a
// routing decision.
package classifier

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/history"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/nlp"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/policy"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/telemetry"
	"github.com/The-Alphabet-Cartel/ash-bot/internal/userlock"
)

const historyWindow = 20

// nlpClient is the subset of the NLP client the pipeline needs.
type nlpClient interface {
	Analyze(ctx context.Context, text, userID, channelID string, history []nlp.HistoryItem) nlp.Result
}

// historyStore is the subset of the History Store the pipeline needs.
type historyStore interface {
	GetHistory(ctx context.Context, guildID, userID string, limit int) []history.StoredMessage
	Insert(ctx context.Context, guildID, userID string, entry history.StoredMessage) (bool, error)
}

// Decision is the outcome of running a message through the pipeline: the
// (possibly sensitivity-adjusted) NLP result and where, if anywhere, it
// should be routed.
type Decision struct {
	Result          nlp.Result
	OriginalScore   float64
	Sensitivity     float64
	Route           policy.Route
}

// Pipeline is the Classifier Pipeline. Per-user invocations are serialised
// by a keyed lock so history reads observe a consistent prefix of earlier
// accepted messages (§4.6 ordering); different users run concurrently.
type Pipeline struct {
	nlp     nlpClient
	history historyStore
	policy  *policy.Policy
	locks   *userlock.Keyed
	thresholds severity.Thresholds
	logger  *slog.Logger
}

// New builds a Classifier Pipeline.
func New(nlpClient nlpClient, historyStore historyStore, pol *policy.Policy, thresholds severity.Thresholds, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		nlp:        nlpClient,
		history:    historyStore,
		policy:     pol,
		locks:      userlock.New(),
		thresholds: thresholds,
		logger:     logger,
	}
}

// Classify runs the full pipeline for one accepted message (§4.6 steps 1-5).
func (p *Pipeline) Classify(ctx context.Context, guildID, channelID, userID, text string, timestamp time.Time) Decision {
	var decision Decision

	p.locks.With(userID, func() {
		telemetry.MessagesProcessedTotal.Inc()

		recent := p.history.GetHistory(ctx, guildID, userID, historyWindow)
		items := make([]nlp.HistoryItem, 0, len(recent))
		for _, m := range recent {
			items = append(items, nlp.HistoryItem{
				Text: m.Text, Timestamp: m.Timestamp, CrisisScore: m.CrisisScore, Severity: m.Severity.String(),
			})
		}

		result := p.nlp.Analyze(ctx, text, userID, channelID, items)
		originalScore := result.CrisisScore
		sensitivity := p.policy.Sensitivity(channelID)

		if sensitivity != 1.0 {
			modified := math.Min(1.0, originalScore*sensitivity)
			result.CrisisScore = modified
			result.Severity = severity.From(modified, p.thresholds)
			result.SeverityRaw = result.Severity.String()
			telemetry.SensitivityAdjustmentsTotal.WithLabelValues(channelID).Inc()
		}

		telemetry.MessagesAnalyzedTotal.WithLabelValues(result.Severity.String()).Inc()

		if result.Severity >= severity.Low {
			go func() {
				// Async, fail-soft: history insert never blocks the caller
				// and its failure is handled entirely inside Store.Insert.
				_, err := p.history.Insert(context.WithoutCancel(ctx), guildID, userID, history.StoredMessage{
					Text:        text,
					Timestamp:   timestamp.Unix(),
					CrisisScore: result.CrisisScore,
					Severity:    result.Severity,
				})
				if err != nil {
					p.logger.Warn("async history insert failed", "error", err, "user_id", userID)
				}
			}()
		}

		decision = Decision{
			Result:        result,
			OriginalScore: originalScore,
			Sensitivity:   sensitivity,
			Route:         p.policy.Route(result.Severity),
		}
	})

	return decision
}
