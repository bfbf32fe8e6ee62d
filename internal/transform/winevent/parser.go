package winevent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// Parse converts a winlogbeat-style JSON payload into a normalized RawEvent.
func Parse(data []byte) (*models.RawEvent, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	event := &models.RawEvent{}

	if ts := getString(raw, "@timestamp", "timestamp"); ts != "" {
		if t, ok := parseTimestamp(ts); ok {
			event.Timestamp = t
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	} else {
		event.Timestamp = event.Timestamp.UTC()
	}

	event.EventID = getInt(raw, "winlog.event_id", "event.code", "event_id")
	event.Channel = getString(raw, "winlog.channel", "channel")
	event.Hostname = getString(raw, "host.name", "host.hostname", "hostname")
	event.RecordID = getString(raw, "winlog.record_id", "record_id")
	event.Actor = getString(raw,
		"winlog.event_data.TargetUserName",
		"winlog.event_data.SubjectUserName",
		"user.name",
		"actor",
	)
	event.Message = getString(raw, "message")

	if event.RecordID == "" {
		event.RecordID = fmt.Sprintf("%s-%d-%d", event.Hostname, event.EventID, event.Timestamp.UnixNano())
	}
	return event, nil
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				return val
			case float64:
				if val == float64(int64(val)) {
					return fmt.Sprintf("%d", int64(val))
				}
				return fmt.Sprintf("%f", val)
			case int:
				return fmt.Sprintf("%d", val)
			case int64:
				return fmt.Sprintf("%d", val)
			}
		}
	}
	return ""
}

func getInt(root map[string]interface{}, paths ...string) int {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case int:
				return val
			case int64:
				return int(val)
			case float64:
				return int(val)
			case string:
				if val == "" {
					continue
				}
				var parsed int
				if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
					return parsed
				}
			}
		}
	}
	return 0
}

// getPath resolves dotted paths, preferring a literal key at each level.
func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := root[path]; ok {
		return v, true
	}
	cur := interface{}(root)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
