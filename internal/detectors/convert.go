package detectors

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// BurstToCorrelation converts a burst into the uniform correlation shape.
func BurstToCorrelation(b Burst, now time.Time) *models.Correlation {
	return &models.Correlation{
		ID:          uuid.NewString(),
		Type:        models.CorrelationTemporalBurst,
		Confidence:  clamp01(b.Confidence),
		Pattern:     "Temporal Burst",
		EventIDs:    eventIDs(b.Events),
		WindowStart: b.Start,
		WindowEnd:   b.End,
		Risk:        models.RiskMedium,
		Summary:     fmt.Sprintf("%d events on host %s within %s", len(b.Events), b.Host, b.End.Sub(b.Start).Round(time.Second)),
		Actions:     []string{"Check the host for automated or scripted activity"},
		Techniques:  []string{"T1110"},
		Metadata: map[string]string{
			"host":        b.Host,
			"event_count": fmt.Sprintf("%d", len(b.Events)),
		},
		DetectedAt: now,
	}
}

// ChainToCorrelation converts an attack chain, preserving stage order in the
// contributing event ids.
func ChainToCorrelation(c models.AttackChain, now time.Time) *models.Correlation {
	ids := make([]string, 0, len(c.Stages))
	techniques := make([]string, 0, len(c.Stages))
	seenTech := make(map[string]struct{}, len(c.Stages))
	names := make([]string, 0, len(c.Stages))
	for _, stage := range c.Stages {
		ids = append(ids, stage.EventID)
		names = append(names, stage.Name)
		if stage.Technique == "" {
			continue
		}
		if _, ok := seenTech[stage.Technique]; ok {
			continue
		}
		seenTech[stage.Technique] = struct{}{}
		techniques = append(techniques, stage.Technique)
	}

	return &models.Correlation{
		ID:          uuid.NewString(),
		Type:        models.CorrelationAttackChain,
		Confidence:  clamp01(c.Confidence),
		Pattern:     c.AttackType,
		EventIDs:    ids,
		WindowStart: c.StartTime,
		WindowEnd:   c.EndTime,
		Risk:        chainRisk(c.AttackType),
		Summary:     fmt.Sprintf("%s: %s", c.AttackType, strings.Join(names, " -> ")),
		Actions:     []string{"Isolate affected hosts", "Review the full activity of the involved accounts"},
		Techniques:  techniques,
		Metadata: map[string]string{
			"attack_type": c.AttackType,
			"stages":      fmt.Sprintf("%d", len(c.Stages)),
			"hosts":       strings.Join(c.Hosts, ","),
		},
		DetectedAt: now,
	}
}

// LateralToCorrelation converts a lateral-movement group.
func LateralToCorrelation(l LateralMovement, now time.Time) *models.Correlation {
	events := l.Events
	return &models.Correlation{
		ID:          uuid.NewString(),
		Type:        models.CorrelationLateralMovement,
		Confidence:  clamp01(l.Confidence),
		Pattern:     "Lateral Movement",
		EventIDs:    eventIDs(events),
		WindowStart: events[0].Timestamp,
		WindowEnd:   events[len(events)-1].Timestamp,
		Risk:        models.RiskHigh,
		Summary:     fmt.Sprintf("%s activity across %d hosts", l.Category, len(l.Hosts)),
		Actions:     []string{"Verify the account is authorized on all involved hosts", "Check for credential reuse"},
		Techniques:  []string{"T1021", "T1570"},
		Metadata: map[string]string{
			"category":   string(l.Category),
			"host_count": fmt.Sprintf("%d", len(l.Hosts)),
			"hosts":      strings.Join(l.Hosts, ","),
		},
		DetectedAt: now,
	}
}

func chainRisk(attackType string) models.RiskLevel {
	switch attackType {
	case "Privilege Escalation", "Data Exfiltration":
		return models.RiskCritical
	case "Unknown":
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

func eventIDs(events []*models.RawEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.RecordID)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
