package risk

import (
	"fmt"
	"strings"

	"depsync/internal/data"
)

// ClassifySeverity derives a coarse severity from verdict text. Explicit
// "<level> risk" statements win over keyword hints.
func ClassifySeverity(text string) data.Severity {
	t := strings.ToLower(text)
	switch {
	case containsAny(t, "high risk", "risk: high", "risk level: high", "risk is high"):
		return data.SeverityHigh
	case containsAny(t, "medium risk", "moderate risk", "risk: medium", "risk level: medium", "risk is medium"):
		return data.SeverityMedium
	case containsAny(t, "low risk", "risk: low", "risk level: low", "risk is low"):
		return data.SeverityLow
	case containsAny(t, "no breaking", "without breaking", "safe to apply", "apply immediately"):
		return data.SeverityLow
	case containsAny(t, "breaking change", "hold off", "do not apply", "should hold"):
		return data.SeverityHigh
	case containsAny(t, "migration", "caution", "deprecat"):
		return data.SeverityMedium
	default:
		return data.SeverityUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Policy decides whether a verdict lets commits proceed.
type Policy string

const (
	// PolicyAdvisory never withholds commits.
	PolicyAdvisory Policy = "advisory"
	// PolicyBlockHigh withholds commits when severity is high.
	PolicyBlockHigh Policy = "block-high"
	// PolicyRequireLow commits only when severity is none or low.
	PolicyRequireLow Policy = "require-low"
)

func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicyAdvisory, nil
	case PolicyAdvisory, PolicyBlockHigh, PolicyRequireLow:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported risk policy %q (must be one of: advisory, block-high, require-low)", raw)
	}
}

func (p Policy) Allows(v data.RiskVerdict) bool {
	switch p {
	case PolicyBlockHigh:
		return v.Severity != data.SeverityHigh
	case PolicyRequireLow:
		return v.Severity == data.SeverityNone || v.Severity == data.SeverityLow
	default:
		return true
	}
}
