package rules

import (
	"time"

	"github.com/MLidstrom/Castellan-sub000/internal/history"
	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// Match is one firing rule with its matched events, oldest first.
type Match struct {
	Rule       Definition
	Confidence float64
	Events     []*models.RawEvent
}

// Matcher evaluates the catalog against history plus a new event.
type Matcher struct {
	catalog *Catalog
	store   *history.Store
}

// NewMatcher creates a matcher over the given catalog and history store.
func NewMatcher(catalog *Catalog, store *history.Store) *Matcher {
	return &Matcher{catalog: catalog, store: store}
}

// BestMatch returns the single highest-confidence firing rule for the event,
// or nil when no enabled rule fires. The event must already be recorded in
// history. Ties resolve to catalog order.
func (m *Matcher) BestMatch(e *models.RawEvent, now time.Time) *Match {
	if e == nil {
		return nil
	}

	var best *Match
	for _, rule := range m.catalog.Definitions() {
		if !rule.Enabled {
			continue
		}
		if !ruleCovers(rule, e.EventID) {
			continue
		}
		recent := m.store.EventsForActor(e.Channel, e.Actor, rule.Window, now)
		matched := filterByRule(recent, rule)
		if len(matched) < rule.MinCount {
			continue
		}
		conf := ruleConfidence(rule, matched)
		if conf < rule.MinConfidence {
			continue
		}
		if best == nil || conf > best.Confidence {
			best = &Match{Rule: rule, Confidence: conf, Events: matched}
		}
	}
	return best
}

// ruleCovers reports whether the new event itself satisfies the rule's
// event-type filter; a rule never fires anchored on a foreign event.
func ruleCovers(rule Definition, eventID int) bool {
	if len(rule.EventIDs) == 0 {
		return true
	}
	for _, id := range rule.EventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

func filterByRule(events []*models.RawEvent, rule Definition) []*models.RawEvent {
	if len(rule.EventIDs) == 0 {
		return events
	}
	out := make([]*models.RawEvent, 0, len(events))
	for _, e := range events {
		if ruleCovers(rule, e.EventID) {
			out = append(out, e)
		}
	}
	return out
}

func ruleConfidence(rule Definition, matched []*models.RawEvent) float64 {
	ratio := float64(len(matched)) / float64(rule.MinCount)
	if ratio > 1 {
		ratio = 1
	}

	span := matched[len(matched)-1].Timestamp.Sub(matched[0].Timestamp)
	clustering := 1 - span.Seconds()/rule.Window.Seconds()
	if clustering < 0 {
		clustering = 0
	}

	diversity := 0.0
	seen := make(map[int]struct{}, 4)
	for _, e := range matched {
		seen[e.EventID] = struct{}{}
	}
	if len(seen) >= 2 {
		diversity = 0.1
	}

	conf := 0.6*ratio + 0.3*clustering + diversity
	if conf > 1 {
		conf = 1
	}
	return conf
}
