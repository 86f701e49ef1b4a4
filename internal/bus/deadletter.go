// internal/bus/deadletter.go
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/streadway/amqp"

	"academic-records/internal/errs"
	"academic-records/internal/model"
)

const deadLetterQueue = "academic_dead_letters"

// LogDeadLetter is the default dead-letter handler: record the failure
// and keep the message in the queue history for operator inspection.
func LogDeadLetter(ctx context.Context, ev model.DomainEvent, reason string) error {
	log.Printf("[Rabbit] Dead letter: tenant=%s aggregate=%s type=%s version=%d reason=%s",
		ev.TenantID, ev.AggregateID, ev.EventType, ev.Version, reason)
	return nil
}

// SubscribeToDeadLetters binds a catch-all queue to the dead-letter
// exchange and redelivers failed messages with their recorded failure
// reason. A handler failure here requeues into the dead-letter queue
// again; poison messages cycle until operator intervention, bounded
// only by the queue TTL.
func (b *Bus) SubscribeToDeadLetters(handler DeadLetterHandler) error {
	s := &subscription{
		pattern:    "#",
		queue:      deadLetterQueue,
		deadLetter: handler,
	}
	if err := b.startDeadLetterConsumer(s); err != nil {
		return err
	}

	b.subMu.Lock()
	b.subs = append(b.subs, s)
	b.subMu.Unlock()

	log.Printf("[Rabbit] Dead-letter consumer bound to %s", b.dlx)
	return nil
}

func (b *Bus) startDeadLetterConsumer(s *subscription) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return errs.NotInitialized("event bus is not connected")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("dead-letter subscription: failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(s.queue, s.pattern, b.dlx, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}
	if err := ch.Qos(b.cfg.RabbitMQ.Prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos on dead-letter queue: %w", err)
	}

	msgs, err := ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume dead-letter queue: %w", err)
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.setLive(ch, stopCh, doneCh)
	go func() {
		defer close(doneCh)
		for {
			select {
			case <-stopCh:
				_ = ch.Close()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.DomainEvent
				if err := json.Unmarshal(msg.Body, &ev); err != nil {
					log.Printf("[Rabbit] DLQ: dropping undecodable message %s: %v", msg.MessageId, err)
					_ = msg.Ack(false)
					continue
				}
				if err := s.deadLetter(context.Background(), ev, failureReason(msg)); err != nil {
					log.Printf("[Rabbit] DLQ handler failed for %s, requeueing: %v", msg.MessageId, err)
					_ = msg.Nack(false, true)
					continue
				}
				_ = msg.Ack(false)
			}
		}
	}()
	return nil
}

// failureReason extracts the reason recorded during retry republishes,
// falling back to the broker's own x-death bookkeeping.
func failureReason(msg amqp.Delivery) string {
	if msg.Headers == nil {
		return "unknown"
	}
	if r, ok := msg.Headers["x-failure-reason"].(string); ok && r != "" {
		return r
	}
	if deaths, ok := msg.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		if d, ok := deaths[0].(amqp.Table); ok {
			if reason, ok := d["reason"].(string); ok {
				return reason
			}
		}
	}
	return "unknown"
}
