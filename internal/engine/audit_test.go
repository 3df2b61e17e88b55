package engine

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"memgate/internal/memory"
)

func TestAuditSink_PersistsEvents(t *testing.T) {
	gdb := newEngineDB(t)

	var mu sync.Mutex
	var notified []memory.AuditEvent
	sink := NewAuditSink(gdb, 16, func(e memory.AuditEvent) {
		mu.Lock()
		notified = append(notified, e)
		mu.Unlock()
	})

	sink.Record(AuditRecord{
		Type:     "intercept",
		Actor:    "interceptor",
		TenantID: "tenant-a",
		Payload:  map[string]interface{}{"enhanced": true, "memories_used": 2},
		Outcome:  "injected",
		Latency:  42 * time.Millisecond,
	})
	sink.Close() // drains the buffer

	var events []memory.AuditEvent
	if err := gdb.Find(&events).Error; err != nil {
		t.Fatalf("load events failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 persisted event, got %d", len(events))
	}
	e := events[0]
	if e.Type != "intercept" || e.TenantID != "tenant-a" || e.Outcome != "injected" {
		t.Errorf("unexpected event %+v", e)
	}
	if e.LatencyMs != 42 {
		t.Errorf("expected latency 42ms, got %d", e.LatencyMs)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		t.Fatalf("payload should be valid JSON: %v", err)
	}
	if payload["enhanced"] != true {
		t.Errorf("payload fields should round-trip, got %v", payload)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 {
		t.Errorf("live feed hook should see every event, got %d", len(notified))
	}
}

func TestAuditSink_NilDatabase(t *testing.T) {
	sink := NewAuditSink(nil, 4, nil)
	// Must not panic or block
	sink.Record(AuditRecord{Type: "intercept", TenantID: "t", Outcome: "skipped"})
	sink.Close()
}

func TestAuditSink_NilPayload(t *testing.T) {
	gdb := newEngineDB(t)
	sink := NewAuditSink(gdb, 4, nil)
	sink.Record(AuditRecord{Type: "compression", TenantID: "t", Outcome: "below_threshold"})
	sink.Close()

	var events []memory.AuditEvent
	if err := gdb.Find(&events).Error; err != nil {
		t.Fatalf("load events failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Payload) != "{}" {
		t.Errorf("nil payload should persist as an empty object, got %s", events[0].Payload)
	}
}
