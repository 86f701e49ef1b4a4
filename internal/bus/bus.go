// internal/bus/bus.go
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"academic-records/internal/config"
	"academic-records/internal/errs"
	"academic-records/internal/metrics"
	"academic-records/internal/model"
)

// Handler processes one delivered domain event. Handlers must be
// reentrant: delivery is at-least-once and redelivery can happen after a
// crash mid-processing.
type Handler func(ctx context.Context, ev model.DomainEvent) error

// DeadLetterHandler receives failed messages together with the recorded
// failure reason.
type DeadLetterHandler func(ctx context.Context, ev model.DomainEvent, reason string) error

// Bus is a durable topic-routed publish/subscribe fabric with
// dead-letter rerouting. Constructed explicitly and passed by reference;
// there is no package-level instance.
type Bus struct {
	cfg      *config.Config
	exchange string
	dlx      string

	mu    sync.RWMutex
	conn  *amqp.Connection
	pubCh *amqp.Channel

	subMu sync.Mutex
	subs  []*subscription

	closing chan struct{}
	once    sync.Once
}

// New dials the broker, declares the topic and dead-letter exchanges,
// and starts the reconnect watchdog.
func New(cfg *config.Config) (*Bus, error) {
	b := &Bus{
		cfg:      cfg,
		exchange: cfg.RabbitMQ.Exchange,
		dlx:      cfg.RabbitMQ.Exchange + ".dlx",
		closing:  make(chan struct{}),
	}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bus) connect() error {
	conn, err := amqp.Dial(b.cfg.RabbitMQ.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}
	if err := declareTopology(ch, b.exchange, b.dlx); err != nil {
		conn.Close()
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.pubCh = ch
	b.mu.Unlock()

	go b.watch(conn)
	log.Printf("[Rabbit] Connected, exchange %s ready", b.exchange)
	return nil
}

func declareTopology(ch *amqp.Channel, exchange, dlx string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(dlx, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	return nil
}

// watch redials on connection loss at a fixed interval, forever, and
// re-declares the full topology including every live subscription.
// Calls made before reconnection completes fail fast.
func (b *Bus) watch(conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-b.closing:
		return
	case amqpErr := <-closed:
		if amqpErr == nil {
			return
		}
		log.Printf("[Rabbit] Connection lost: %v", amqpErr)
	}

	b.mu.Lock()
	b.conn = nil
	b.pubCh = nil
	b.mu.Unlock()

	ticker := time.NewTicker(b.cfg.RabbitMQ.ReconnectInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-b.closing:
			return
		case <-ticker.C:
			if err := b.connect(); err != nil {
				log.Printf("[Rabbit] Reconnect failed: %v", err)
				continue
			}
			b.resubscribe()
			return
		}
	}
}

func (b *Bus) resubscribe() {
	b.subMu.Lock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.subMu.Unlock()

	for _, s := range subs {
		var err error
		if s.deadLetter != nil {
			err = b.startDeadLetterConsumer(s)
		} else {
			err = b.startSubscription(s)
		}
		if err != nil {
			log.Printf("[Rabbit] Failed to restore subscription %s: %v", s.queue, err)
		}
	}
}

// RoutingKey builds the topic key consumers bind against.
func RoutingKey(tenantID, eventType string) string {
	return tenantID + "." + eventType
}

// Publish sends the event to the durable topic exchange under
// {tenantID}.{eventType}, with identifying metadata in the headers.
// It fails fast with a not-initialized error while disconnected, and
// fails typed after the configured publish timeout instead of blocking
// on a stalled channel. An abandoned send may still reach the broker.
func (b *Bus) Publish(ctx context.Context, eventType string, ev *model.DomainEvent) error {
	b.mu.RLock()
	ch := b.pubCh
	b.mu.RUnlock()
	if ch == nil {
		return errs.NotInitialized("event bus is not connected")
	}
	if err := ctx.Err(); err != nil {
		return errs.Delivery(ev.TenantID, eventType, "publish aborted", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return errs.Delivery(ev.TenantID, eventType, "failed to encode event", err)
	}

	key := RoutingKey(ev.TenantID, eventType)
	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     ev.EventID.String(),
		CorrelationId: ev.CorrelationID.String(),
		Timestamp:     ev.EventTime,
		Type:          eventType,
		Body:          body,
		Headers: amqp.Table{
			"x-tenant-id":      ev.TenantID,
			"x-user-id":        ev.UserID,
			"x-event-version":  ev.Version,
			"x-correlation-id": ev.CorrelationID.String(),
			"x-source":         "academic-records",
		},
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.RabbitMQ.PublishTimeout.Std())
	defer cancel()
	sent := make(chan error, 1)
	go func() { sent <- ch.Publish(b.exchange, key, false, false, pub) }()
	select {
	case err := <-sent:
		if err != nil {
			return errs.Delivery(ev.TenantID, eventType, "publish failed", err)
		}
	case <-ctx.Done():
		return errs.Delivery(ev.TenantID, eventType, "publish timed out", ctx.Err())
	}
	metrics.EventsPublished.WithLabelValues(ev.TenantID, eventType).Inc()
	return nil
}

// Close stops the watchdog, cancels consumers, and closes the connection.
func (b *Bus) Close() error {
	b.once.Do(func() { close(b.closing) })

	b.subMu.Lock()
	for _, s := range b.subs {
		s.stop()
	}
	b.subs = nil
	b.subMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		b.pubCh = nil
		return err
	}
	return nil
}

// Connected reports broker liveness for health checks.
func (b *Bus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil
}

// queueNameForPattern derives a stable, shareable queue name from a
// binding pattern ("bgu1.grade.*" -> "academic_bgu1_grade_any").
func queueNameForPattern(pattern string) string {
	r := strings.NewReplacer(".", "_", "*", "any", "#", "all")
	return "academic_" + r.Replace(pattern)
}
