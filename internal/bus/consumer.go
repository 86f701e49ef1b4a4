// internal/bus/consumer.go
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"academic-records/internal/errs"
	"academic-records/internal/metrics"
	"academic-records/internal/model"
)

// SubscribeOpts tunes one subscription. Zero values fall back to the
// bus-wide configuration.
type SubscribeOpts struct {
	Queue      string
	Prefetch   int
	MaxRetries int
}

type subscription struct {
	pattern    string
	queue      string
	prefetch   int
	maxRetries int
	handler    Handler
	deadLetter DeadLetterHandler

	// Live consumer state, replaced wholesale on every (re)start. The
	// mutex keeps those swaps ordered against stop(); the consume loop
	// itself only ever sees the copies it was started with.
	mu       sync.Mutex
	ch       *amqp.Channel
	stopChan chan struct{}
	doneChan chan struct{}
}

func (s *subscription) setLive(ch *amqp.Channel, stopCh, doneCh chan struct{}) {
	s.mu.Lock()
	s.ch, s.stopChan, s.doneChan = ch, stopCh, doneCh
	s.mu.Unlock()
}

func (s *subscription) stop() {
	s.mu.Lock()
	stopCh, doneCh := s.stopChan, s.doneChan
	if stopCh != nil {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	s.mu.Unlock()
	if doneCh != nil {
		<-doneCh
	}
}

// Subscribe declares a durable, shareable queue bound to pattern and
// consumes from it. The queue is configured at declare time with the
// dead-letter exchange, routing key dlx.{pattern}, and the message TTL.
// Ack on handler success; on failure the message retries up to
// MaxRetries via header-tracked republish, then dead-letters.
func (b *Bus) Subscribe(pattern string, handler Handler, opts SubscribeOpts) error {
	if pattern == "" {
		return errs.Validation("", "empty subscription pattern")
	}
	b.mu.RLock()
	connected := b.conn != nil
	b.mu.RUnlock()
	if !connected {
		return errs.NotInitialized("event bus is not connected")
	}

	s := &subscription{
		pattern:    pattern,
		queue:      opts.Queue,
		prefetch:   opts.Prefetch,
		maxRetries: opts.MaxRetries,
		handler:    handler,
	}
	if s.queue == "" {
		s.queue = queueNameForPattern(pattern)
	}
	if s.prefetch == 0 {
		s.prefetch = b.cfg.RabbitMQ.Prefetch
	}
	if s.maxRetries == 0 {
		s.maxRetries = b.cfg.RabbitMQ.MaxRetries
	}

	if err := b.startSubscription(s); err != nil {
		return err
	}

	b.subMu.Lock()
	b.subs = append(b.subs, s)
	b.subMu.Unlock()
	return nil
}

func (b *Bus) startSubscription(s *subscription) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return errs.NotInitialized("event bus is not connected")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("subscription %s: failed to open channel: %w", s.queue, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    b.dlx,
		"x-dead-letter-routing-key": "dlx." + s.pattern,
		"x-message-ttl":             int64(b.cfg.RabbitMQ.MessageTTL.Std().Milliseconds()),
	}
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, args); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", s.queue, err)
	}
	if err := ch.QueueBind(s.queue, s.pattern, b.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("bind queue %s to %s: %w", s.queue, s.pattern, err)
	}
	// Prefetch enforces fair dispatch across concurrent consumers.
	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos on %s: %w", s.queue, err)
	}

	msgs, err := ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume %s: %w", s.queue, err)
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.setLive(ch, stopCh, doneCh)
	go b.consumeLoop(s, ch, msgs, stopCh, doneCh)

	log.Printf("[Rabbit] Subscribed queue %s to %s (prefetch %d)", s.queue, s.pattern, s.prefetch)
	return nil
}

func (b *Bus) consumeLoop(s *subscription, ch *amqp.Channel, msgs <-chan amqp.Delivery, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			_ = ch.Close()
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Printf("[Rabbit] Delivery channel closed for %s", s.queue)
				return
			}
			b.handleDelivery(s, msg)
		}
	}
}

func (b *Bus) handleDelivery(s *subscription, msg amqp.Delivery) {
	var ev model.DomainEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		// Undecodable payloads go straight to the DLX.
		log.Printf("[Rabbit] %s: undecodable message %s: %v", s.queue, msg.MessageId, err)
		metrics.DeadLettered.WithLabelValues(s.queue).Inc()
		_ = msg.Nack(false, false)
		return
	}

	ctx := context.Background()
	err := s.handler(ctx, ev)
	if err == nil {
		_ = msg.Ack(false)
		return
	}

	metrics.HandlerFailures.WithLabelValues(s.queue).Inc()
	attempts := headerInt(msg.Headers, "x-attempts")
	if attempts+1 < s.maxRetries {
		if rerr := b.republish(s, msg, attempts+1, err); rerr == nil {
			_ = msg.Ack(false)
			return
		}
		// Republish failed (likely disconnected); fall through to DLX.
	}

	log.Printf("[Rabbit] %s: handler failed after %d attempts, dead-lettering %s: %v",
		s.queue, attempts+1, msg.MessageId, err)
	metrics.DeadLettered.WithLabelValues(s.queue).Inc()
	// Negative ack without requeue routes to the dead-letter exchange
	// configured at declare time; never retried in place.
	_ = msg.Nack(false, false)
}

// republish puts a failed message back on its own queue with the attempt
// counter incremented and the failure reason recorded, so retries stay
// explicit and bounded instead of relying on broker redelivery. The send
// goes through the default exchange addressed by queue name: a retry
// belongs to the one queue whose handler failed, not to every queue
// whose binding pattern matches the original routing key.
func (b *Bus) republish(s *subscription, msg amqp.Delivery, attempt int, cause error) error {
	b.mu.RLock()
	ch := b.pubCh
	b.mu.RUnlock()
	if ch == nil {
		return errs.NotInitialized("event bus is not connected")
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-attempts"] = int32(attempt)
	headers["x-failure-reason"] = cause.Error()
	if _, ok := headers["x-original-routing-key"]; !ok {
		headers["x-original-routing-key"] = msg.RoutingKey
	}

	return ch.Publish("", s.queue, false, false, amqp.Publishing{
		ContentType:   msg.ContentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.MessageId,
		CorrelationId: msg.CorrelationId,
		Timestamp:     msg.Timestamp,
		Type:          msg.Type,
		Body:          msg.Body,
		Headers:       headers,
	})
}

func headerInt(h amqp.Table, key string) int {
	if h == nil {
		return 0
	}
	switch v := h[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}
