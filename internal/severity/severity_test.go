package severity

import "testing"

func defaultThresholds() Thresholds {
	return Thresholds{Critical: 0.85, High: 0.55, Medium: 0.28, Low: 0.16}
}

func TestFrom(t *testing.T) {
	th := defaultThresholds()
	tests := []struct {
		score float64
		want  Severity
	}{
		{0.0, Safe},
		{0.15, Safe},
		{0.16, Low},
		{0.27, Low},
		{0.28, Medium},
		{0.54, Medium},
		{0.55, High},
		{0.84, High},
		{0.85, Critical},
		{1.0, Critical},
	}
	for _, tt := range tests {
		if got := From(tt.score, th); got != tt.want {
			t.Errorf("From(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestFromIsSafeIffBelowLow(t *testing.T) {
	th := defaultThresholds()
	for s := 0.0; s <= 1.0; s += 0.01 {
		got := From(s, th) == Safe
		want := s < th.Low
		if got != want {
			t.Errorf("From(%v) == Safe => %v, want %v", s, got, want)
		}
	}
}

func TestOrdering(t *testing.T) {
	if !(Safe < Low && Low < Medium && Medium < High && High < Critical) {
		t.Fatal("severity enum is not totally ordered as expected")
	}
}

func TestValidateRejectsNonDecreasing(t *testing.T) {
	bad := Thresholds{Critical: 0.5, High: 0.6, Medium: 0.2, Low: 0.1}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error for non-decreasing thresholds")
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []Severity{Safe, Low, Medium, High, Critical} {
		if got := Parse(s.String()); got != s {
			t.Errorf("Parse(%q) = %v, want %v", s.String(), got, s)
		}
	}
}

func TestParseUnknownIsSafe(t *testing.T) {
	if got := Parse("bogus"); got != Safe {
		t.Errorf("Parse(bogus) = %v, want Safe", got)
	}
}
