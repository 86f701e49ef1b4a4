// internal/views/listener.go
package views

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"

	"academic-records/internal/config"
	"academic-records/internal/model"
)

// refreshPayload is the event body carried by view.refresh_pending.
type refreshPayload struct {
	Views []string `json:"views"`
}

// Listener bridges the database change triggers to the event bus: the
// statement-level triggers NOTIFY on a shared channel, and the listener
// republishes as {tenant}.view.refresh_pending so refresh work rides
// the same durable fabric as everything else instead of happening
// inline with the write.
type Listener struct {
	pq  *pq.Listener
	bus Publisher
}

// Publisher is the slice of the event bus the listener needs.
type Publisher interface {
	Publish(ctx context.Context, eventType string, ev *model.DomainEvent) error
}

func NewListener(cfg *config.Config, bus Publisher) (*Listener, error) {
	l := pq.NewListener(cfg.Database.URL, time.Second, cfg.RabbitMQ.ReconnectInterval.Std(),
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Printf("[Views] Listener event %d: %v", ev, err)
			}
		})
	if err := l.Listen(refreshChannel); err != nil {
		l.Close()
		return nil, err
	}
	return &Listener{pq: l, bus: bus}, nil
}

// Run forwards notifications until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	defer l.pq.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.pq.Notify:
			if n == nil {
				// Reconnect happened; lib/pq resumes LISTEN itself.
				continue
			}
			l.forward(ctx, n.Extra)
		case <-time.After(90 * time.Second):
			go l.pq.Ping()
		}
	}
}

// forward parses "tenant:view1,view2" and publishes the pending-refresh
// event. Malformed payloads are dropped with a log line.
func (l *Listener) forward(ctx context.Context, payload string) {
	tenantID, list, ok := strings.Cut(payload, ":")
	if !ok || !model.ValidTenantID(tenantID) {
		log.Printf("[Views] Dropping malformed refresh notification %q", payload)
		return
	}
	var views []string
	for _, v := range strings.Split(list, ",") {
		if _, ok := viewDefinitions[v]; ok {
			views = append(views, v)
		}
	}
	if len(views) == 0 {
		return
	}

	data, err := json.Marshal(refreshPayload{Views: views})
	if err != nil {
		return
	}
	ev := &model.DomainEvent{
		AggregateID: "views",
		TenantID:    tenantID,
		EventType:   model.EventViewRefreshPending,
		EventData:   data,
		Version:     1,
	}
	ev.Normalize()
	if err := l.bus.Publish(ctx, model.EventViewRefreshPending, ev); err != nil {
		log.Printf("[Views] Failed to publish refresh notification for %s: %v", tenantID, err)
	}
}
