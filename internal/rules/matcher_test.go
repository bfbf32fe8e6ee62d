package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/MLidstrom/Castellan-sub000/internal/history"
	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

func testEvent(eventID int, actor string, ts time.Time) *models.RawEvent {
	return &models.RawEvent{
		RecordID:  fmt.Sprintf("%s-%d-%d", actor, eventID, ts.UnixNano()),
		Channel:   "Security",
		EventID:   eventID,
		Actor:     actor,
		Hostname:  "host-a",
		Timestamp: ts,
	}
}

func testCatalog(t *testing.T, defs ...Definition) *Catalog {
	t.Helper()
	c := NewCatalog()
	for _, d := range defs {
		if err := c.Upsert(d); err != nil {
			t.Fatalf("upsert %s: %v", d.ID, err)
		}
	}
	return c
}

func bruteForceRule() Definition {
	return Definition{
		ID:            "brute-force",
		Name:          "Brute Force",
		Type:          models.CorrelationBruteForce,
		Window:        5 * time.Minute,
		MinCount:      5,
		MinConfidence: 0.7,
		EventIDs:      []int{4625, 4624},
		Enabled:       true,
	}
}

func TestRuleDoesNotFireBelowMinCount(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := history.NewStore(history.Config{Retention: time.Hour})
	m := NewMatcher(testCatalog(t, bruteForceRule()), store)

	// Four qualifying events only.
	var last *models.RawEvent
	for i := 0; i < 4; i++ {
		last = testEvent(4625, "alice", base.Add(time.Duration(i)*10*time.Second))
		store.Record(last)
	}

	if match := m.BestMatch(last, base.Add(time.Minute)); match != nil {
		t.Fatalf("expected no match on 4 events, got %+v", match)
	}
}

func TestRuleFiresOnClusteredDiverseEvents(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := history.NewStore(history.Config{Retention: time.Hour})
	store.SetClock(func() time.Time { return base })
	m := NewMatcher(testCatalog(t, bruteForceRule()), store)

	for i := 0; i < 4; i++ {
		store.Record(testEvent(4625, "alice", base.Add(time.Duration(i)*10*time.Second)))
	}
	last := testEvent(4624, "alice", base.Add(40*time.Second))
	store.Record(last)

	match := m.BestMatch(last, base.Add(41*time.Second))
	if match == nil {
		t.Fatalf("expected a match on 5 clustered diverse events")
	}
	if match.Rule.ID != "brute-force" {
		t.Fatalf("unexpected rule: %s", match.Rule.ID)
	}
	// ratio=1.0 -> 0.6; span 40s of 5m -> clustering ~0.867 -> 0.26; diversity 0.1.
	if match.Confidence < 0.9 || match.Confidence > 1.0 {
		t.Fatalf("unexpected confidence %f", match.Confidence)
	}
	if len(match.Events) != 5 {
		t.Fatalf("expected 5 matched events, got %d", len(match.Events))
	}
}

func TestRuleIgnoresForeignEventTypes(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := history.NewStore(history.Config{Retention: time.Hour})
	m := NewMatcher(testCatalog(t, bruteForceRule()), store)

	for i := 0; i < 5; i++ {
		store.Record(testEvent(4625, "alice", base.Add(time.Duration(i)*10*time.Second)))
	}
	// Process-creation event is outside the rule's type filter.
	last := testEvent(4688, "alice", base.Add(50*time.Second))
	store.Record(last)

	if match := m.BestMatch(last, base.Add(time.Minute)); match != nil {
		t.Fatalf("expected no match anchored on a foreign event, got %+v", match)
	}
}

func TestDisabledRulesNeverFire(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rule := bruteForceRule()
	rule.Enabled = false

	store := history.NewStore(history.Config{Retention: time.Hour})
	m := NewMatcher(testCatalog(t, rule), store)

	var last *models.RawEvent
	for i := 0; i < 6; i++ {
		last = testEvent(4625, "alice", base.Add(time.Duration(i)*5*time.Second))
		store.Record(last)
	}

	if match := m.BestMatch(last, base.Add(time.Minute)); match != nil {
		t.Fatalf("expected disabled rule to stay silent, got %+v", match)
	}
}

func TestBestMatchPrefersHigherConfidenceThenCatalogOrder(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	narrow := Definition{
		ID:            "narrow",
		Name:          "Narrow",
		Type:          models.CorrelationSuspicious,
		Window:        5 * time.Minute,
		MinCount:      2,
		MinConfidence: 0.1,
		EventIDs:      []int{4625},
		Enabled:       true,
	}
	wide := Definition{
		ID:            "wide",
		Name:          "Wide",
		Type:          models.CorrelationBruteForce,
		Window:        5 * time.Minute,
		MinCount:      2,
		MinConfidence: 0.1,
		EventIDs:      []int{4625, 4624},
		Enabled:       true,
	}

	store := history.NewStore(history.Config{Retention: time.Hour})
	store.SetClock(func() time.Time { return base })
	m := NewMatcher(testCatalog(t, narrow, wide), store)

	store.Record(testEvent(4625, "alice", base))
	store.Record(testEvent(4624, "alice", base.Add(5*time.Second)))
	last := testEvent(4625, "alice", base.Add(10*time.Second))
	store.Record(last)

	match := m.BestMatch(last, base.Add(11*time.Second))
	if match == nil {
		t.Fatalf("expected a match")
	}
	// The wide rule matches a mixed population and earns the diversity bonus.
	if match.Rule.ID != "wide" {
		t.Fatalf("expected wide rule to win, got %s", match.Rule.ID)
	}

	// With identical definitions, catalog order breaks the tie.
	first := narrow
	first.ID = "first"
	second := narrow
	second.ID = "second"
	m2 := NewMatcher(testCatalog(t, first, second), store)
	match2 := m2.BestMatch(last, base.Add(11*time.Second))
	if match2 == nil || match2.Rule.ID != "first" {
		t.Fatalf("expected catalog order to break ties, got %+v", match2)
	}
}

func TestCatalogRejectsMisconfiguredRules(t *testing.T) {
	c := NewCatalog()

	bad := bruteForceRule()
	bad.Window = 0
	if err := c.Upsert(bad); err == nil {
		t.Fatalf("expected non-positive window to be rejected")
	}

	bad = bruteForceRule()
	bad.MinConfidence = 1.5
	if err := c.Upsert(bad); err == nil {
		t.Fatalf("expected out-of-range confidence to be rejected")
	}

	bad = bruteForceRule()
	bad.MinCount = 1
	if err := c.Upsert(bad); err == nil {
		t.Fatalf("expected min_count below 2 to be rejected")
	}

	if len(c.Definitions()) != 0 {
		t.Fatalf("rejected rules must not land in the catalog")
	}
}

func TestUpsertReplacesInPlace(t *testing.T) {
	c := testCatalog(t, bruteForceRule())

	updated := bruteForceRule()
	updated.MinCount = 10
	if err := c.Upsert(updated); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	defs := c.Definitions()
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].MinCount != 10 {
		t.Fatalf("expected updated min count, got %d", defs[0].MinCount)
	}
}
