package detectors

import (
	"sort"
	"time"

	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

const chainConfidence = 0.85

type chainPattern struct {
	name   string
	stages []models.Category
}

var chainPatterns = []chainPattern{
	{"credential-access-chain", []models.Category{models.CategoryAuthFailure, models.CategoryPrivEsc, models.CategoryDataAccess}},
	{"remote-execution-chain", []models.Category{models.CategoryProcessCreate, models.CategoryNetworkConnect, models.CategoryDataExfil}},
	{"persistence-chain", []models.Category{models.CategoryServiceModify, models.CategoryRegistryModify, models.CategoryProcessCreate}},
	{"brute-force-chain", []models.Category{models.CategoryAuthFailure, models.CategoryAuthFailure, models.CategoryAuthSuccess}},
}

// DetectAttackChains matches the time-sorted batch against the fixed ordered
// stage patterns. Progress resets whenever elapsed time since the chain start
// exceeds the window, restarting the candidate at the current event. Affected
// hosts cover the whole input batch.
func DetectAttackChains(events []*models.RawEvent, window time.Duration) []models.AttackChain {
	sorted := make([]*models.RawEvent, 0, len(events))
	for _, e := range events {
		if e != nil {
			sorted = append(sorted, e)
		}
	}
	sortByTime(sorted)

	hosts := distinctHosts(sorted)

	out := make([]models.AttackChain, 0, 4)
	for _, pattern := range chainPatterns {
		out = append(out, matchPattern(sorted, pattern, window, hosts)...)
	}
	return out
}

func matchPattern(sorted []*models.RawEvent, pattern chainPattern, window time.Duration, hosts []string) []models.AttackChain {
	var (
		out     []models.AttackChain
		matched []*models.RawEvent
		start   time.Time
		idx     int
	)

	reset := func() {
		matched = nil
		idx = 0
	}

	for _, e := range sorted {
		if idx > 0 && e.Timestamp.Sub(start) > window {
			reset()
		}
		if models.Categorize(e) != pattern.stages[idx] {
			continue
		}
		if idx == 0 {
			start = e.Timestamp
		}
		matched = append(matched, e)
		idx++
		if idx < len(pattern.stages) {
			continue
		}
		out = append(out, buildChain(pattern, matched, hosts))
		reset()
	}
	return out
}

func buildChain(pattern chainPattern, matched []*models.RawEvent, hosts []string) models.AttackChain {
	stages := make([]models.ChainStage, 0, len(matched))
	for i, e := range matched {
		cat := models.Categorize(e)
		stages = append(stages, models.ChainStage{
			Sequence:  i + 1,
			Name:      string(cat),
			EventID:   e.RecordID,
			Timestamp: e.Timestamp,
			Technique: cat.Technique(),
		})
	}
	return models.AttackChain{
		Stages:     stages,
		Confidence: chainConfidence,
		StartTime:  matched[0].Timestamp,
		EndTime:    matched[len(matched)-1].Timestamp,
		AttackType: chainLabel(matched),
		Hosts:      hosts,
	}
}

// chainLabel names the chain from its matched stage categories.
func chainLabel(matched []*models.RawEvent) string {
	present := make(map[models.Category]bool, len(matched))
	for _, e := range matched {
		present[models.Categorize(e)] = true
	}
	switch {
	case present[models.CategoryAuthFailure] && present[models.CategoryAuthSuccess]:
		return "Brute Force Attack"
	case present[models.CategoryProcessCreate] && present[models.CategoryNetworkConnect]:
		return "Remote Execution"
	case present[models.CategoryPrivEsc]:
		return "Privilege Escalation"
	case present[models.CategoryDataExfil]:
		return "Data Exfiltration"
	default:
		return "Unknown"
	}
}

func distinctHosts(events []*models.RawEvent) []string {
	seen := make(map[string]struct{}, 8)
	out := make([]string, 0, 8)
	for _, e := range events {
		host := e.Hostname
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}
