package detectors

import (
	"sort"
	"time"

	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

const burstMinEvents = 5

// Burst is a dense run of events on one host within the window.
type Burst struct {
	Host       string
	Events     []*models.RawEvent
	Confidence float64
	Start      time.Time
	End        time.Time
}

// DetectTemporalBursts groups the batch by host and finds maximal runs of at
// least five events whose span stays within the window.
func DetectTemporalBursts(events []*models.RawEvent, window time.Duration) []Burst {
	byHost := groupByHost(events)

	hosts := make([]string, 0, len(byHost))
	for h := range byHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	out := make([]Burst, 0, 8)
	for _, host := range hosts {
		hostEvents := byHost[host]
		sortByTime(hostEvents)

		i := 0
		for i < len(hostEvents) {
			j := i + 1
			for j < len(hostEvents) && hostEvents[j].Timestamp.Sub(hostEvents[i].Timestamp) <= window {
				j++
			}
			count := j - i
			if count < burstMinEvents {
				i++
				continue
			}
			run := hostEvents[i:j]
			out = append(out, Burst{
				Host:       host,
				Events:     run,
				Confidence: 0.8 + 0.02*float64(count-burstMinEvents),
				Start:      run[0].Timestamp,
				End:        run[len(run)-1].Timestamp,
			})
			i = j
		}
	}
	return out
}

func groupByHost(events []*models.RawEvent) map[string][]*models.RawEvent {
	byHost := make(map[string][]*models.RawEvent, 16)
	for _, e := range events {
		if e == nil {
			continue
		}
		host := e.Hostname
		if host == "" {
			host = "unknown"
		}
		byHost[host] = append(byHost[host], e)
	}
	return byHost
}

func sortByTime(events []*models.RawEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
