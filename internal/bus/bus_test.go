package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"

	"academic-records/internal/config"
	"academic-records/internal/errs"
	"academic-records/internal/model"
)

func TestRoutingKey(t *testing.T) {
	require.Equal(t, "bgu1.grade.updated", RoutingKey("bgu1", model.EventGradeUpdated))
	require.Equal(t, "tau1.course.created", RoutingKey("tau1", model.EventCourseCreated))
}

func TestQueueNameForPattern(t *testing.T) {
	cases := map[string]string{
		"bgu1.grade.*":           "academic_bgu1_grade_any",
		"*.course.*":             "academic_any_course_any",
		"#":                      "academic_all",
		"bgu1.#":                 "academic_bgu1_all",
		"*.view.refresh_pending": "academic_any_view_refresh_pending",
	}
	for pattern, want := range cases {
		require.Equal(t, want, queueNameForPattern(pattern), "pattern %q", pattern)
	}
}

func TestHeaderInt(t *testing.T) {
	require.Equal(t, 0, headerInt(nil, "x-attempts"))
	require.Equal(t, 0, headerInt(amqp.Table{}, "x-attempts"))
	require.Equal(t, 2, headerInt(amqp.Table{"x-attempts": int32(2)}, "x-attempts"))
	require.Equal(t, 3, headerInt(amqp.Table{"x-attempts": int64(3)}, "x-attempts"))
	require.Equal(t, 4, headerInt(amqp.Table{"x-attempts": 4}, "x-attempts"))
	require.Equal(t, 0, headerInt(amqp.Table{"x-attempts": "2"}, "x-attempts"))
}

func TestFailureReasonPrefersRecordedHeader(t *testing.T) {
	msg := amqp.Delivery{Headers: amqp.Table{
		"x-failure-reason": "projection write failed",
		"x-death": []interface{}{
			amqp.Table{"reason": "rejected"},
		},
	}}
	require.Equal(t, "projection write failed", failureReason(msg))
}

func TestFailureReasonFallsBackToDeathTable(t *testing.T) {
	msg := amqp.Delivery{Headers: amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"reason": "expired"},
		},
	}}
	require.Equal(t, "expired", failureReason(msg))
}

func TestFailureReasonUnknown(t *testing.T) {
	require.Equal(t, "unknown", failureReason(amqp.Delivery{}))
	require.Equal(t, "unknown", failureReason(amqp.Delivery{Headers: amqp.Table{}}))
}

func TestPublishFailsFastWhenDisconnected(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	b := &Bus{cfg: cfg, exchange: cfg.RabbitMQ.Exchange}

	ev := &model.DomainEvent{TenantID: "bgu1", EventType: model.EventGradeUpdated, Version: 1}
	err := b.Publish(context.Background(), model.EventGradeUpdated, ev)
	require.True(t, errs.IsKind(err, errs.KindNotInitialized))
}

func TestPublishHonorsCancelledContext(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	b := &Bus{cfg: cfg, exchange: cfg.RabbitMQ.Exchange, pubCh: &amqp.Channel{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := &model.DomainEvent{TenantID: "bgu1", EventType: model.EventGradeUpdated, Version: 1}
	err := b.Publish(ctx, model.EventGradeUpdated, ev)
	require.True(t, errs.IsKind(err, errs.KindDelivery))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSubscriptionStopBeforeStart(t *testing.T) {
	s := &subscription{pattern: "bgu1.#", queue: "q"}
	s.stop() // no live consumer yet; must not block or panic
	s.stop()
}

func TestSubscriptionRestartLeavesOldGenerationAlone(t *testing.T) {
	s := &subscription{pattern: "bgu1.#", queue: "q"}

	oldStop := make(chan struct{})
	oldDone := make(chan struct{})
	s.setLive(nil, oldStop, oldDone)

	// A reconnect swaps in fresh channels while the defunct loop's
	// copies stay untouched.
	newStop := make(chan struct{})
	newDone := make(chan struct{})
	s.setLive(nil, newStop, newDone)
	go func() {
		<-newStop
		close(newDone)
	}()

	s.stop()
	s.stop() // idempotent

	select {
	case <-oldStop:
		t.Fatal("stop closed a superseded generation's channel")
	default:
	}
	select {
	case <-newDone:
	default:
		t.Fatal("stop did not wait for the live consumer to finish")
	}
}

func TestDispatcherRoutesByEventType(t *testing.T) {
	d := NewDispatcher()
	var got []string
	d.Register(model.EventGradeUpdated, func(_ context.Context, ev model.DomainEvent) error {
		got = append(got, ev.AggregateID)
		return nil
	})

	err := d.Dispatch(context.Background(), model.DomainEvent{
		EventType: model.EventGradeUpdated, AggregateID: "student-9", TenantID: "bgu1",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"student-9"}, got)
}

func TestDispatcherSkipsUnknownTypes(t *testing.T) {
	d := NewDispatcher()
	err := d.Dispatch(context.Background(), model.DomainEvent{EventType: "unmapped.event"})
	require.NoError(t, err, "unknown types are skipped, not failed")
}

func TestWrapHandlerPassesErrorThrough(t *testing.T) {
	boom := errors.New("boom")
	h := WrapHandler("test", func(context.Context, model.DomainEvent) error { return boom })
	require.ErrorIs(t, h(context.Background(), model.DomainEvent{}), boom)
}
