package detections

import (
	"fmt"
	"strings"
)

// Band assigns Level to any missing count strictly greater than Above.
type Band struct {
	Above int
	Level string
}

// SeverityPolicy maps a missing-slot count to a severity level. Bands are
// checked highest first; Floor applies when none match.
type SeverityPolicy struct {
	Name  string
	Bands []Band
	Floor string
}

var (
	GradedPolicy = SeverityPolicy{
		Name: PolicyGraded,
		Bands: []Band{
			{Above: 5, Level: SeverityHigh},
			{Above: 2, Level: SeverityMedium},
			{Above: 0, Level: SeverityLow},
		},
		Floor: SeverityNone,
	}

	BinaryPolicy = SeverityPolicy{
		Name:  PolicyBinary,
		Bands: []Band{{Above: 3, Level: SeverityCritical}},
		Floor: SeverityLow,
	}
)

func (p SeverityPolicy) Severity(missing int) string {
	for _, b := range p.Bands {
		if missing > b.Above {
			return b.Level
		}
	}
	return p.Floor
}

// Levels returns every level the policy can produce, lowest first.
func (p SeverityPolicy) Levels() []string {
	levels := []string{p.Floor}
	for i := len(p.Bands) - 1; i >= 0; i-- {
		levels = append(levels, p.Bands[i].Level)
	}
	return levels
}

func ParseSeverityPolicy(name string) (SeverityPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyGraded:
		return GradedPolicy, nil
	case PolicyBinary:
		return BinaryPolicy, nil
	default:
		return SeverityPolicy{}, fmt.Errorf("unknown severity policy %q (want %s or %s)", name, PolicyGraded, PolicyBinary)
	}
}
