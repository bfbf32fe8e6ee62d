package signals

import (
	"regexp"
	"time"

	"github.com/MLidstrom/Castellan-sub000/internal/history"
	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// Scores holds the three per-event signal scores, each in [0,1].
type Scores struct {
	Correlation float64 `json:"correlation"`
	Burst       float64 `json:"burst"`
	Anomaly     float64 `json:"anomaly"`
}

// Sum returns the summed score used by the fusion policy.
func (s Scores) Sum() float64 {
	return s.Correlation + s.Burst + s.Anomaly
}

// Machine accounts end in "$"; service accounts carry a conventional prefix.
var serviceAccountRe = regexp.MustCompile(`(?i)^(svc|service|sys|sql|iis)([._-].*)?$|\$$`)

// Evaluate computes all three signals for an already-recorded event. All
// scores are pure functions of store state, the event and now.
func Evaluate(store *history.Store, e *models.RawEvent, now time.Time) Scores {
	key := history.KeyFor(e)
	return Scores{
		Correlation: CorrelationScore(store, key, now),
		Burst:       BurstScore(store, key, now),
		Anomaly:     AnomalyScore(store, key, e.Actor, e.Timestamp),
	}
}

// CorrelationScore measures how often this key repeats: zero for a bucket
// with fewer than two events, otherwise the 2-minute rate with a bonus for a
// deep bucket.
func CorrelationScore(store *history.Store, key history.Key, now time.Time) float64 {
	total := store.Size(key)
	if total < 2 {
		return 0
	}
	score := float64(store.RecentCount(key, 2*time.Minute, now)) / 10.0
	if score > 1 {
		score = 1
	}
	if total > 5 {
		score += 0.3
	}
	if score > 1 {
		score = 1
	}
	return score
}

// BurstScore steps on the 1-minute recent count.
func BurstScore(store *history.Store, key history.Key, now time.Time) float64 {
	switch n := store.RecentCount(key, time.Minute, now); {
	case n >= 10:
		return 1.0
	case n >= 5:
		return 0.8
	case n >= 3:
		return 0.5
	case n >= 2:
		return 0.2
	default:
		return 0.0
	}
}

// AnomalyScore sums off-hours, service-account-in-business-hours and
// first-seen-key contributions, capped at 1.0.
func AnomalyScore(store *history.Store, key history.Key, actor string, ts time.Time) float64 {
	score := 0.0
	if hour := ts.Hour(); hour >= 22 || hour <= 6 {
		score += 0.3
	}
	if serviceAccountRe.MatchString(actor) && isBusinessHours(ts) {
		score += 0.2
	}
	if store.Size(key) == 1 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

func isBusinessHours(ts time.Time) bool {
	switch ts.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	hour := ts.Hour()
	return hour >= 9 && hour < 17
}
