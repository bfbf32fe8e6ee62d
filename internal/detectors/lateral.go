package detectors

import (
	"sort"
	"time"

	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

const lateralMinHosts = 3

// LateralMovement is one (category, time bucket) group spanning at least
// three distinct hosts.
type LateralMovement struct {
	Category   models.Category
	Bucket     time.Time
	Hosts      []string
	Events     []*models.RawEvent
	Confidence float64
}

// DetectLateralMovement restricts the batch to network-connection and
// authentication-success events, buckets them by (category, window-aligned
// time bucket) and emits groups seen on three or more hosts.
func DetectLateralMovement(events []*models.RawEvent, window time.Duration) []LateralMovement {
	if window <= 0 {
		return nil
	}

	type bucketKey struct {
		category models.Category
		bucket   time.Time
	}
	buckets := make(map[bucketKey][]*models.RawEvent, 16)

	for _, e := range events {
		if e == nil {
			continue
		}
		cat := models.Categorize(e)
		if cat != models.CategoryNetworkConnect && cat != models.CategoryAuthSuccess {
			continue
		}
		k := bucketKey{category: cat, bucket: e.Timestamp.Truncate(window)}
		buckets[k] = append(buckets[k], e)
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].bucket.Equal(keys[j].bucket) {
			return keys[i].bucket.Before(keys[j].bucket)
		}
		return keys[i].category < keys[j].category
	})

	out := make([]LateralMovement, 0, 4)
	for _, k := range keys {
		group := buckets[k]
		hosts := distinctHosts(group)
		if len(hosts) < lateralMinHosts {
			continue
		}
		sortByTime(group)
		out = append(out, LateralMovement{
			Category:   k.category,
			Bucket:     k.bucket,
			Hosts:      hosts,
			Events:     group,
			Confidence: 0.75 + 0.05*float64(len(hosts)-lateralMinHosts),
		})
	}
	return out
}
