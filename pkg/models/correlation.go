package models

import "time"

// CorrelationType names the multi-event pattern class a correlation belongs to.
type CorrelationType string

const (
	CorrelationTemporalBurst   CorrelationType = "TemporalBurst"
	CorrelationAttackChain     CorrelationType = "AttackChain"
	CorrelationLateralMovement CorrelationType = "LateralMovement"
	CorrelationPrivEsc         CorrelationType = "PrivilegeEscalation"
	CorrelationBruteForce      CorrelationType = "BruteForce"
	CorrelationAccountManip    CorrelationType = "AccountManipulation"
	CorrelationAnomaly         CorrelationType = "Anomaly"
	CorrelationSuspicious      CorrelationType = "Suspicious"
)

// Correlation is a detected multi-event pattern. Immutable after creation;
// EventIDs is never empty and Confidence stays in [0,1].
type Correlation struct {
	ID          string            `json:"id"`
	Type        CorrelationType   `json:"type"`
	Confidence  float64           `json:"confidence"`
	Pattern     string            `json:"pattern"`
	EventIDs    []string          `json:"event_ids"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Risk        RiskLevel         `json:"risk"`
	Summary     string            `json:"summary,omitempty"`
	Actions     []string          `json:"actions,omitempty"`
	Techniques  []string          `json:"techniques,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DetectedAt  time.Time         `json:"detected_at"`
}

// ChainStage is one matched step of an attack chain.
type ChainStage struct {
	Sequence  int       `json:"sequence"`
	Name      string    `json:"name"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Technique string    `json:"technique,omitempty"`
}

// AttackChain is the batch-path intermediate for an ordered multi-stage
// sequence; it is always converted to a Correlation before storage.
type AttackChain struct {
	Stages     []ChainStage `json:"stages"`
	Confidence float64      `json:"confidence"`
	StartTime  time.Time    `json:"start_time"`
	EndTime    time.Time    `json:"end_time"`
	AttackType string       `json:"attack_type"`
	Hosts      []string     `json:"hosts,omitempty"`
}
