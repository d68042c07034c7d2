// Package severity defines the crisis-severity enum and the thresholds that
// derive it from a classifier score.
package severity

import "fmt"

// Severity is a totally ordered classification. Zero value is Safe.
type Severity int

const (
	Safe Severity = iota
	Low
	Medium
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Safe:
		return "safe"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Parse converts a wire-format severity string into a Severity. Unknown
// strings parse as Safe, the fail-open default.
func Parse(s string) Severity {
	switch s {
	case "low":
		return Low
	case "medium":
		return Medium
	case "high":
		return High
	case "critical":
		return Critical
	default:
		return Safe
	}
}

// Thresholds holds the score cutoffs that derive Severity from a [0,1] score.
// All four are config values; see internal/config.
type Thresholds struct {
	Critical float64
	High     float64
	Medium   float64
	Low      float64
}

// Validate rejects a threshold set that isn't strictly decreasing, which
// would make severity() ambiguous.
func (t Thresholds) Validate() error {
	if !(t.Critical > t.High && t.High > t.Medium && t.Medium > t.Low) {
		return fmt.Errorf("severity thresholds must satisfy critical > high > medium > low, got %+v", t)
	}
	return nil
}

// From derives the severity for score under thresholds: the highest enum
// value whose threshold is <= score. From(s, t) == Safe iff s < t.Low.
func From(score float64, t Thresholds) Severity {
	switch {
	case score >= t.Critical:
		return Critical
	case score >= t.High:
		return High
	case score >= t.Medium:
		return Medium
	case score >= t.Low:
		return Low
	default:
		return Safe
	}
}
