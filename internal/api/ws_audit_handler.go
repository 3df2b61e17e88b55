// internal/api/ws_audit_handler.go
package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"memgate/internal/auth"
	"memgate/internal/memory"
)

var auditUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AuditHub fans audit events out to connected websocket subscribers. Each
// subscriber only sees its own tenant's events. A slow subscriber drops
// events rather than backing up the sink.
type AuditHub struct {
	mu   sync.Mutex
	subs map[*auditSub]bool
}

type auditSub struct {
	tenantID string
	events   chan memory.AuditEvent
}

// NewAuditHub creates an empty hub.
func NewAuditHub() *AuditHub {
	return &AuditHub{subs: make(map[*auditSub]bool)}
}

// Broadcast delivers an event to matching subscribers without blocking.
// Wired as the audit sink's notify hook.
func (h *AuditHub) Broadcast(event memory.AuditEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.tenantID != event.TenantID {
			continue
		}
		select {
		case sub.events <- event:
		default:
		}
	}
}

func (h *AuditHub) subscribe(tenantID string) *auditSub {
	sub := &auditSub{tenantID: tenantID, events: make(chan memory.AuditEvent, 64)}
	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()
	return sub
}

func (h *AuditHub) unsubscribe(sub *auditSub) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// GET /ws/audit — live feed of the tenant's pipeline decisions.
func auditFeedHandler(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := auditUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[AuditFeed] WS upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		sub := deps.AuditHub.subscribe(auth.TenantID(c))
		defer deps.AuditHub.unsubscribe(sub)

		// Reader goroutine notices the client going away
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case event := <-sub.events:
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}
}
