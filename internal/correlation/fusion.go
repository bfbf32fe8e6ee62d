package correlation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MLidstrom/Castellan-sub000/internal/rules"
	"github.com/MLidstrom/Castellan-sub000/internal/signals"
	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// Thresholds gate the fusion policy. Override bypasses all gates, for tuning
// and testing.
type Thresholds struct {
	MinCorrelation float64 `yaml:"min_correlation"`
	MinBurst       float64 `yaml:"min_burst"`
	MinAnomaly     float64 `yaml:"min_anomaly"`
	MinTotal       float64 `yaml:"min_total"`
	Override       bool    `yaml:"override"`
}

// DefaultThresholds returns the shipped gate configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinCorrelation: 0.5,
		MinBurst:       0.5,
		MinAnomaly:     0.5,
		MinTotal:       0.8,
	}
}

// fuse merges the base finding with the signal scores and the best rule
// match, or synthesizes a correlation-only finding. Returns nil when the
// evidence does not clear the gate (the base finding passes through upstream
// unchanged).
func fuse(e *models.RawEvent, base *models.BaseFinding, sc signals.Scores, match *rules.Match, th Thresholds, now time.Time) *models.Correlation {
	signalGate := (sc.Correlation >= th.MinCorrelation ||
		sc.Burst >= th.MinBurst ||
		sc.Anomaly >= th.MinAnomaly) &&
		sc.Sum() >= th.MinTotal
	if !th.Override && !signalGate && match == nil {
		return nil
	}

	// A fired rule is multi-event evidence in its own right; its confidence
	// joins the banding sum alongside the signals.
	evidence := sc.Sum()
	if match != nil {
		evidence += match.Confidence
	}

	fired := firedSignals(sc, th)
	techniques, actions := signalAnnotations(fired)
	if match != nil {
		techniques = appendUnique(techniques, ruleTechniques(match.Rule.Type)...)
	}

	if base != nil {
		return enhance(e, base, sc, match, evidence, fired, techniques, actions, now)
	}
	return synthesize(e, sc, match, evidence, fired, techniques, actions, now)
}

func enhance(e *models.RawEvent, base *models.BaseFinding, sc signals.Scores, match *rules.Match, evidence float64, fired []string, techniques, actions []string, now time.Time) *models.Correlation {
	risk := base.Risk
	if band, ok := riskBand(evidence); ok && band > risk {
		risk = band
	}
	if match != nil {
		if band := ruleRiskBand(match.Confidence); band > risk {
			risk = band
		}
	}

	confidence := base.Confidence + 10*evidence
	if confidence > 100 {
		confidence = 100
	}

	summary := base.Summary
	if clause := firedClause(fired, match); clause != "" {
		if summary != "" {
			summary += "; "
		}
		summary += clause
	}

	c := newCorrelation(e, sc, match, now)
	c.Risk = risk
	c.Summary = summary
	c.Techniques = appendUnique(append([]string(nil), base.Techniques...), techniques...)
	c.Actions = appendUnique(append([]string(nil), base.Actions...), actions...)
	c.Confidence = confidence / 100
	c.Metadata["base_event_type"] = base.EventType
	c.Metadata["base_confidence"] = fmt.Sprintf("%.0f", base.Confidence)
	c.Metadata["fused_confidence"] = fmt.Sprintf("%.0f", confidence)
	return c
}

func synthesize(e *models.RawEvent, sc signals.Scores, match *rules.Match, evidence float64, fired []string, techniques, actions []string, now time.Time) *models.Correlation {
	risk := models.RiskLow
	if band, ok := riskBand(evidence); ok {
		risk = band
	}
	if match != nil {
		if band := ruleRiskBand(match.Confidence); band > risk {
			risk = band
		}
	}

	confidence := 50 + 20*evidence
	if confidence > 95 {
		confidence = 95
	}

	c := newCorrelation(e, sc, match, now)
	c.Risk = risk
	c.Summary = fmt.Sprintf("%s for %s on %s", dominantActivity(sc), e.Actor, e.Hostname)
	if clause := firedClause(fired, match); clause != "" {
		c.Summary += "; " + clause
	}
	c.Techniques = techniques
	c.Actions = actions
	c.Confidence = confidence / 100
	c.Metadata["synthesized"] = "true"
	c.Metadata["fused_confidence"] = fmt.Sprintf("%.0f", confidence)
	return c
}

func newCorrelation(e *models.RawEvent, sc signals.Scores, match *rules.Match, now time.Time) *models.Correlation {
	var (
		ctype   models.CorrelationType
		pattern string
		ids     []string
		start   = e.Timestamp
		end     = e.Timestamp
	)
	if match != nil {
		ctype = match.Rule.Type
		pattern = match.Rule.Name
		for _, ev := range match.Events {
			ids = append(ids, ev.RecordID)
			if ev.Timestamp.Before(start) {
				start = ev.Timestamp
			}
			if ev.Timestamp.After(end) {
				end = ev.Timestamp
			}
		}
	} else {
		ctype, pattern = signalType(sc)
	}
	if len(ids) == 0 {
		ids = []string{e.RecordID}
	}

	meta := map[string]string{
		"actor":             e.Actor,
		"host":              e.Hostname,
		"correlation_score": fmt.Sprintf("%.2f", sc.Correlation),
		"burst_score":       fmt.Sprintf("%.2f", sc.Burst),
		"anomaly_score":     fmt.Sprintf("%.2f", sc.Anomaly),
	}
	if match != nil {
		meta["rule_id"] = match.Rule.ID
		meta["rule_confidence"] = fmt.Sprintf("%.2f", match.Confidence)
	}

	return &models.Correlation{
		ID:          uuid.NewString(),
		Type:        ctype,
		Pattern:     pattern,
		EventIDs:    ids,
		WindowStart: start,
		WindowEnd:   end,
		Metadata:    meta,
		DetectedAt:  now,
	}
}

// riskBand maps a summed score onto a risk level; ok is false below the
// lowest band (risk stays unchanged).
func riskBand(sum float64) (models.RiskLevel, bool) {
	switch {
	case sum > 2.0:
		return models.RiskCritical, true
	case sum > 1.5:
		return models.RiskHigh, true
	case sum > 1.0:
		return models.RiskMedium, true
	default:
		return models.RiskLow, false
	}
}

func ruleRiskBand(confidence float64) models.RiskLevel {
	switch {
	case confidence >= 0.9:
		return models.RiskCritical
	case confidence >= 0.8:
		return models.RiskHigh
	default:
		return models.RiskMedium
	}
}

func firedSignals(sc signals.Scores, th Thresholds) []string {
	fired := make([]string, 0, 3)
	if sc.Correlation >= th.MinCorrelation && sc.Correlation > 0 {
		fired = append(fired, "correlation")
	}
	if sc.Burst >= th.MinBurst && sc.Burst > 0 {
		fired = append(fired, "burst")
	}
	if sc.Anomaly >= th.MinAnomaly && sc.Anomaly > 0 {
		fired = append(fired, "anomaly")
	}
	return fired
}

func signalAnnotations(fired []string) (techniques, actions []string) {
	for _, name := range fired {
		switch name {
		case "correlation":
			techniques = append(techniques, "T1078")
			actions = append(actions, "Review recent activity history for this account")
		case "burst":
			techniques = append(techniques, "T1110")
			actions = append(actions, "Check for automated or scripted activity")
		case "anomaly":
			techniques = appendUnique(techniques, "T1078")
			actions = append(actions, "Verify the activity was expected at this time")
		}
	}
	return techniques, actions
}

func ruleTechniques(t models.CorrelationType) []string {
	switch t {
	case models.CorrelationBruteForce:
		return []string{"T1110"}
	case models.CorrelationPrivEsc:
		return []string{"T1068", "T1078"}
	case models.CorrelationLateralMovement:
		return []string{"T1021"}
	case models.CorrelationAccountManip:
		return []string{"T1098"}
	case models.CorrelationTemporalBurst:
		return []string{"T1110"}
	default:
		return nil
	}
}

func firedClause(fired []string, match *rules.Match) string {
	parts := append([]string(nil), fired...)
	if match != nil {
		parts = append(parts, "rule "+match.Rule.Name)
	}
	if len(parts) == 0 {
		return ""
	}
	return "correlated signals: " + strings.Join(parts, ", ")
}

func dominantActivity(sc signals.Scores) string {
	switch {
	case sc.Burst > 0.7:
		return "Burst activity"
	case sc.Correlation > 0.7:
		return "Correlated activity"
	case sc.Anomaly > 0.7:
		return "Anomalous activity"
	default:
		return "Suspicious activity"
	}
}

func signalType(sc signals.Scores) (models.CorrelationType, string) {
	switch {
	case sc.Burst > 0.7:
		return models.CorrelationTemporalBurst, "Burst Activity"
	case sc.Correlation > 0.7:
		return models.CorrelationSuspicious, "Correlated Activity"
	case sc.Anomaly > 0.7:
		return models.CorrelationAnomaly, "Anomalous Activity"
	default:
		return models.CorrelationSuspicious, "Suspicious Activity"
	}
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(values))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
