package views

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"academic-records/internal/model"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	var inCritical int
	var maxInCritical int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.lock("bgu1/dashboard_summary")
			defer unlock()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxInCritical, "same key must never overlap")
}

func TestKeyedMutexDistinctKeysProceedInParallel(t *testing.T) {
	km := newKeyedMutex()
	unlockA := km.lock("bgu1/dashboard_summary")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := km.lock("tau1/dashboard_summary")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("distinct keys must not block each other")
	}
}

func TestViewsForTable(t *testing.T) {
	require.Equal(t, []string{ViewCourseSummary, ViewStudentProgress}, ViewsForTable("courses"))
	require.Equal(t, AllViews, ViewsForTable("grades"))
	require.Equal(t, AllViews, ViewsForTable("enrollments"))
	require.Nil(t, ViewsForTable("events"), "log tables never invalidate views")
}

func TestJoinViews(t *testing.T) {
	require.Equal(t, "", joinViews(nil))
	require.Equal(t, "course_summary", joinViews([]string{ViewCourseSummary}))
	require.Equal(t, "dashboard_summary,course_summary,student_progress", joinViews(AllViews))
}

func TestWorkerPoolStopWithConcurrentEnqueue(t *testing.T) {
	wp := NewWorkerPool(NewManager(nil), 1)

	producerDone := make(chan struct{})
	stopProducer := make(chan struct{})
	go func() {
		defer close(producerDone)
		for {
			select {
			case <-stopProducer:
				return
			default:
				// Unknown view names fail validation before any database
				// access, so a nil-registry manager is safe here.
				wp.Enqueue("bgu1", "bogus_view")
			}
		}
	}()

	time.Sleep(5 * time.Millisecond)
	wp.Stop()
	wp.Stop() // repeated stop must also be safe
	close(stopProducer)

	select {
	case <-producerDone:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after Stop")
	}
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []model.DomainEvent
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, ev *model.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *ev)
	return nil
}

func TestListenerForwardParsesNotification(t *testing.T) {
	pub := &capturingPublisher{}
	l := &Listener{bus: pub}

	l.forward(context.Background(), "bgu1:dashboard_summary,course_summary")

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	require.Equal(t, "bgu1", ev.TenantID)
	require.Equal(t, model.EventViewRefreshPending, ev.EventType)
	require.Equal(t, "views", ev.AggregateID)
	require.JSONEq(t, `{"views":["dashboard_summary","course_summary"]}`, string(ev.EventData))
}

func TestListenerForwardDropsMalformedPayloads(t *testing.T) {
	pub := &capturingPublisher{}
	l := &Listener{bus: pub}

	l.forward(context.Background(), "no-separator")
	l.forward(context.Background(), "bad tenant:dashboard_summary")
	l.forward(context.Background(), "bgu1:not_a_view")
	l.forward(context.Background(), "bgu1:")

	require.Empty(t, pub.events)
}

func TestListenerForwardFiltersUnknownViews(t *testing.T) {
	pub := &capturingPublisher{}
	l := &Listener{bus: pub}

	l.forward(context.Background(), "bgu1:dashboard_summary,pg_shadow")

	require.Len(t, pub.events, 1)
	require.JSONEq(t, `{"views":["dashboard_summary"]}`, string(pub.events[0].EventData))
}
