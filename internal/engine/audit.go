// internal/engine/audit.go
package engine

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"memgate/internal/memory"
)

// AuditRecord is what callers hand to the sink.
type AuditRecord struct {
	Type     string
	Actor    string
	TenantID string
	Payload  map[string]interface{}
	Outcome  string
	Latency  time.Duration
}

// AuditSink records pipeline decisions off the critical path. Record never
// blocks and never surfaces an error to the caller; a full buffer drops the
// event. Each write runs in its own database session so a failed audit write
// cannot roll anything else back.
type AuditSink struct {
	db       *gorm.DB
	events   chan memory.AuditEvent
	stopChan chan struct{}
	done     chan struct{}
	notify   func(memory.AuditEvent) // optional live feed hook
}

// NewAuditSink creates and starts an audit sink. db may be nil (events are
// then log-only). notify, when set, receives every event for live streaming.
func NewAuditSink(db *gorm.DB, bufferSize int, notify func(memory.AuditEvent)) *AuditSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &AuditSink{
		db:       db,
		events:   make(chan memory.AuditEvent, bufferSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		notify:   notify,
	}
	go s.run()
	return s
}

// Record enqueues an audit event. Fire-and-forget: if the buffer is full the
// event is dropped rather than blocking the request path.
func (s *AuditSink) Record(rec AuditRecord) {
	payload := datatypes.JSON("{}")
	if rec.Payload != nil {
		if raw, err := json.Marshal(rec.Payload); err == nil {
			payload = datatypes.JSON(raw)
		}
	}
	event := memory.AuditEvent{
		Type:      rec.Type,
		Actor:     rec.Actor,
		TenantID:  rec.TenantID,
		Payload:   payload,
		Outcome:   rec.Outcome,
		LatencyMs: rec.Latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}

	select {
	case s.events <- event:
	default:
		log.Printf("[Audit] WARNING: buffer full, dropping event type=%s tenant=%s", rec.Type, rec.TenantID)
	}
}

// run drains the event channel until Close.
func (s *AuditSink) run() {
	defer close(s.done)
	for {
		select {
		case event := <-s.events:
			s.write(event)
		case <-s.stopChan:
			// Drain what's buffered before exiting
			for {
				select {
				case event := <-s.events:
					s.write(event)
				default:
					return
				}
			}
		}
	}
}

// write persists one event in an isolated session. Failures are logged and
// swallowed.
func (s *AuditSink) write(event memory.AuditEvent) {
	if s.notify != nil {
		s.notify(event)
	}
	if s.db == nil {
		return
	}
	session := s.db.Session(&gorm.Session{NewDB: true}).WithContext(context.Background())
	if err := session.Create(&event).Error; err != nil {
		log.Printf("[Audit] WARNING: failed to persist event type=%s: %v", event.Type, err)
	}
}

// Close stops the sink, draining buffered events first.
func (s *AuditSink) Close() {
	close(s.stopChan)
	<-s.done
}
