// Package policy holds the monitored-channel set, per-channel sensitivity
// modifiers, and severity-to-channel alert routing.
package policy

import (
	"log/slog"
	"sync"

	"github.com/The-Alphabet-Cartel/ash-bot/internal/severity"
)

const (
	minSensitivity = 0.3
	maxSensitivity = 2.0
	defaultSensitivity = 1.0
)

// Policy holds the channel policy. Reads take the RWMutex read lock, so they
// do not block each other but do wait for an in-progress mutation; they are
// not lock-free. Mutations (runtime override) take the write lock.
type Policy struct {
	mu sync.RWMutex

	monitored map[string]struct{}
	sensitivity map[string]float64
	defaultSensitivity float64

	crisisChannel  string
	monitorChannel string

	logger *slog.Logger
}

// New builds a Policy from the monitored-channel list and the two routed
// alert channels. defaultSens is clamped to [0.3, 2.0] if out of range.
func New(monitored []string, crisisChannel, monitorChannel string, defaultSens float64, logger *slog.Logger) *Policy {
	m := make(map[string]struct{}, len(monitored))
	for _, c := range monitored {
		if c == "" {
			continue
		}
		m[c] = struct{}{}
	}

	p := &Policy{
		monitored:          m,
		sensitivity:        make(map[string]float64),
		defaultSensitivity: clamp(defaultSens, logger),
		crisisChannel:      crisisChannel,
		monitorChannel:     monitorChannel,
		logger:             logger,
	}
	return p
}

func clamp(v float64, logger *slog.Logger) float64 {
	if v < minSensitivity || v > maxSensitivity {
		if logger != nil {
			logger.Warn("channel sensitivity out of range, clamping",
				"value", v, "min", minSensitivity, "max", maxSensitivity)
		}
		if v < minSensitivity {
			return minSensitivity
		}
		return maxSensitivity
	}
	return v
}

// IsMonitored reports whether channelID is one of the monitored channels.
func (p *Policy) IsMonitored(channelID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.monitored[channelID]
	return ok
}

// Sensitivity returns the sensitivity modifier for channelID, or the default
// (1.0, or whatever was configured) if no per-channel override exists.
func (p *Policy) Sensitivity(channelID string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.sensitivity[channelID]; ok {
		return v
	}
	return p.defaultSensitivity
}

// SetSensitivity overrides the sensitivity modifier for channelID at
// runtime, clamping out-of-range values with a warning.
func (p *Policy) SetSensitivity(channelID string, value float64) {
	value = clamp(value, p.logger)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sensitivity[channelID] = value
}

// AddMonitored adds channelID to the monitored set at runtime.
func (p *Policy) AddMonitored(channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monitored[channelID] = struct{}{}
}

// RemoveMonitored removes channelID from the monitored set at runtime.
func (p *Policy) RemoveMonitored(channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.monitored, channelID)
}

// Route is the routing decision for a severity: which channel (if any) an
// alert should post to, and whether the CRT role should be pinged.
type Route struct {
	ChannelID string
	PingCRT   bool
	Alert     bool
}

// Route implements §4.1/§8 property 7: HIGH and CRITICAL route to the crisis
// channel with a CRT ping; MEDIUM routes to the monitor channel without a
// ping; LOW and SAFE never alert.
func (p *Policy) Route(sev severity.Severity) Route {
	switch sev {
	case severity.Critical, severity.High:
		return Route{ChannelID: p.crisisChannel, PingCRT: true, Alert: true}
	case severity.Medium:
		return Route{ChannelID: p.monitorChannel, PingCRT: false, Alert: true}
	default:
		return Route{Alert: false}
	}
}
