package models

import "strings"

// RiskLevel orders finding severity from low to critical.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the lowercase level name.
func (r RiskLevel) String() string {
	switch r {
	case RiskCritical:
		return "critical"
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParseRiskLevel parses a level name, defaulting to low.
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return RiskCritical
	case "high":
		return RiskHigh
	case "medium":
		return RiskMedium
	default:
		return RiskLow
	}
}

// MarshalJSON writes the level as its name.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// UnmarshalJSON reads a level name.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	*r = ParseRiskLevel(strings.Trim(string(data), `"`))
	return nil
}

// BaseFinding is a prior single-event classification supplied by an external
// detector. Confidence is on a 0-100 scale.
type BaseFinding struct {
	EventType  string    `json:"event_type"`
	Risk       RiskLevel `json:"risk"`
	Confidence float64   `json:"confidence"`
	Summary    string    `json:"summary,omitempty"`
	Techniques []string  `json:"techniques,omitempty"`
	Actions    []string  `json:"actions,omitempty"`
}
