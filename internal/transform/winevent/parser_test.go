package winevent

import (
	"testing"
	"time"
)

func TestParseWinlogbeatPayload(t *testing.T) {
	payload := []byte(`{
		"@timestamp": "2026-06-02T10:15:30.123Z",
		"message": "An account failed to log on.",
		"winlog": {
			"channel": "Security",
			"event_id": 4625,
			"record_id": "12345",
			"event_data": {
				"TargetUserName": "alice",
				"SubjectUserName": "SYSTEM"
			}
		},
		"host": {"name": "ws1.corp.local"}
	}`)

	e, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.EventID != 4625 {
		t.Fatalf("unexpected event id %d", e.EventID)
	}
	if e.Channel != "Security" {
		t.Fatalf("unexpected channel %q", e.Channel)
	}
	if e.Actor != "alice" {
		t.Fatalf("TargetUserName must win over SubjectUserName, got %q", e.Actor)
	}
	if e.Hostname != "ws1.corp.local" {
		t.Fatalf("unexpected hostname %q", e.Hostname)
	}
	if e.RecordID != "12345" {
		t.Fatalf("unexpected record id %q", e.RecordID)
	}
	want := time.Date(2026, 6, 2, 10, 15, 30, 123_000_000, time.UTC)
	if !e.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp %v", e.Timestamp)
	}
}

func TestParseFlatPayload(t *testing.T) {
	payload := []byte(`{
		"timestamp": "2026-06-02 10:15:30",
		"event_id": "4688",
		"channel": "Security",
		"hostname": "ws2",
		"actor": "bob"
	}`)

	e, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.EventID != 4688 {
		t.Fatalf("string event ids must parse, got %d", e.EventID)
	}
	if e.Actor != "bob" {
		t.Fatalf("unexpected actor %q", e.Actor)
	}
	if e.RecordID == "" {
		t.Fatalf("missing record id must be synthesized")
	}
	want := time.Date(2026, 6, 2, 10, 15, 30, 0, time.UTC)
	if !e.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp %v", e.Timestamp)
	}
}

func TestParseNumericRecordID(t *testing.T) {
	payload := []byte(`{"winlog": {"event_id": 4624, "record_id": 99}}`)

	e, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.RecordID != "99" {
		t.Fatalf("numeric record ids must stringify, got %q", e.RecordID)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatalf("expected an error for invalid payload")
	}
}
