package signals

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/MLidstrom/Castellan-sub000/internal/history"
	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

func seed(s *history.Store, channel string, eventID int, actor string, times ...time.Time) {
	for i, ts := range times {
		s.Record(&models.RawEvent{
			RecordID:  fmt.Sprintf("%s-%d-%d", actor, eventID, i),
			Channel:   channel,
			EventID:   eventID,
			Actor:     actor,
			Hostname:  "host-a",
			Timestamp: ts,
		})
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCorrelationScoreRequiresTwoEvents(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := history.NewStore(history.Config{Retention: time.Hour})
	seed(s, "Security", 4625, "alice", base.Add(-30*time.Second))

	k := history.Key{Channel: "Security", EventID: 4625, Actor: "alice"}
	if got := CorrelationScore(s, k, base); got != 0 {
		t.Fatalf("expected 0 for single-event bucket, got %f", got)
	}
}

func TestCorrelationScoreRateAndDepthBonus(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := history.NewStore(history.Config{Retention: time.Hour})
	s.SetClock(func() time.Time { return base })

	times := make([]time.Time, 0, 6)
	for i := 0; i < 6; i++ {
		times = append(times, base.Add(-time.Duration(i*10)*time.Second))
	}
	seed(s, "Security", 4625, "alice", times...)

	k := history.Key{Channel: "Security", EventID: 4625, Actor: "alice"}
	// 6 events in 2 minutes -> 0.6, plus 0.3 depth bonus for >5 total.
	if got := CorrelationScore(s, k, base); !almostEqual(got, 0.9) {
		t.Fatalf("expected 0.9, got %f", got)
	}
}

func TestCorrelationScoreCapsAtOne(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := history.NewStore(history.Config{Retention: time.Hour})
	s.SetClock(func() time.Time { return base })

	times := make([]time.Time, 0, 15)
	for i := 0; i < 15; i++ {
		times = append(times, base.Add(-time.Duration(i)*time.Second))
	}
	seed(s, "Security", 4625, "alice", times...)

	k := history.Key{Channel: "Security", EventID: 4625, Actor: "alice"}
	if got := CorrelationScore(s, k, base); got != 1.0 {
		t.Fatalf("expected cap at 1.0, got %f", got)
	}
}

func TestBurstScoreSteps(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		count int
		want  float64
	}{
		{0, 0.0},
		{1, 0.0},
		{2, 0.2},
		{3, 0.5},
		{4, 0.5},
		{5, 0.8},
		{9, 0.8},
		{10, 1.0},
		{25, 1.0},
	}

	for _, tc := range cases {
		s := history.NewStore(history.Config{Retention: time.Hour})
		s.SetClock(func() time.Time { return base })
		times := make([]time.Time, 0, tc.count)
		for i := 0; i < tc.count; i++ {
			times = append(times, base.Add(-time.Duration(i)*time.Second))
		}
		seed(s, "Security", 4625, "alice", times...)

		k := history.Key{Channel: "Security", EventID: 4625, Actor: "alice"}
		got := BurstScore(s, k, base)
		if !almostEqual(got, tc.want) {
			t.Fatalf("count %d: expected %f, got %f", tc.count, tc.want, got)
		}
	}
}

func TestBurstScoreMonotonicInCount(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	allowed := map[float64]bool{0: true, 0.2: true, 0.5: true, 0.8: true, 1.0: true}

	prev := 0.0
	for count := 0; count <= 12; count++ {
		s := history.NewStore(history.Config{Retention: time.Hour})
		times := make([]time.Time, 0, count)
		for i := 0; i < count; i++ {
			times = append(times, base.Add(-time.Duration(i)*time.Second))
		}
		seed(s, "Security", 4625, "alice", times...)

		k := history.Key{Channel: "Security", EventID: 4625, Actor: "alice"}
		got := BurstScore(s, k, base)
		if !allowed[got] {
			t.Fatalf("count %d: score %f outside allowed set", count, got)
		}
		if got < prev {
			t.Fatalf("count %d: score decreased from %f to %f", count, prev, got)
		}
		prev = got
	}
}

func TestAnomalyScoreOffHours(t *testing.T) {
	// Tuesday 23:30 UTC.
	ts := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	s := history.NewStore(history.Config{Retention: time.Hour})
	seed(s, "Security", 4624, "alice", ts, ts.Add(time.Second))

	k := history.Key{Channel: "Security", EventID: 4624, Actor: "alice"}
	if got := AnomalyScore(s, k, "alice", ts); !almostEqual(got, 0.3) {
		t.Fatalf("expected 0.3 for off-hours, got %f", got)
	}
}

func TestAnomalyScoreServiceAccountBusinessHours(t *testing.T) {
	// Tuesday 10:00 UTC.
	ts := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	s := history.NewStore(history.Config{Retention: time.Hour})
	seed(s, "Security", 4624, "svc_backup", ts, ts.Add(time.Second))

	k := history.Key{Channel: "Security", EventID: 4624, Actor: "svc_backup"}
	if got := AnomalyScore(s, k, "svc_backup", ts); !almostEqual(got, 0.2) {
		t.Fatalf("expected 0.2 for service account in business hours, got %f", got)
	}

	// Machine accounts end with a dollar sign.
	seed(s, "Security", 4624, "WKS01$", ts, ts.Add(time.Second))
	mk := history.Key{Channel: "Security", EventID: 4624, Actor: "WKS01$"}
	if got := AnomalyScore(s, mk, "WKS01$", ts); !almostEqual(got, 0.2) {
		t.Fatalf("expected 0.2 for machine account, got %f", got)
	}
}

func TestAnomalyScoreFirstSeenKey(t *testing.T) {
	// Tuesday 10:00 UTC, plain user: only the first-seen contribution.
	ts := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	s := history.NewStore(history.Config{Retention: time.Hour})
	s.SetClock(func() time.Time { return ts })
	seed(s, "Security", 4624, "alice", ts)

	k := history.Key{Channel: "Security", EventID: 4624, Actor: "alice"}
	if got := AnomalyScore(s, k, "alice", ts); !almostEqual(got, 0.2) {
		t.Fatalf("expected 0.2 for first-seen key, got %f", got)
	}
}

func TestAnomalyScoreSumsAndCaps(t *testing.T) {
	// Saturday 23:00: off-hours but not business hours, first seen.
	ts := time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)
	s := history.NewStore(history.Config{Retention: time.Hour})
	s.SetClock(func() time.Time { return ts })
	seed(s, "Security", 4624, "svc_etl", ts)

	k := history.Key{Channel: "Security", EventID: 4624, Actor: "svc_etl"}
	if got := AnomalyScore(s, k, "svc_etl", ts); !almostEqual(got, 0.5) {
		t.Fatalf("expected 0.5 (off-hours + first seen), got %f", got)
	}
}
