package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"academic-records/internal/errs"
)

func TestValidTenantID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"bgu1", true},
		{"tau_2024", true},
		{"HUJI", true},
		{"a", true},
		{"", false},
		{"bgu-1", false},
		{"bgu.1", false},
		{"bgu 1", false},
		{"tenant'; DROP TABLE events;--", false},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},   // 50 chars
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false}, // 51 chars
	}
	for _, tc := range cases {
		require.Equal(t, tc.valid, ValidTenantID(tc.id), "id %q", tc.id)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	ev := DomainEvent{
		AggregateID: "c1",
		EventType:   EventCourseCreated,
		TenantID:    "bgu1",
		Version:     1,
	}
	ev.Normalize()

	require.NotEqual(t, uuid.Nil, ev.EventID)
	require.NotEqual(t, uuid.Nil, ev.CorrelationID)
	require.False(t, ev.EventTime.IsZero())
	require.JSONEq(t, `{}`, string(ev.EventData))
}

func TestNormalizeKeepsExistingValues(t *testing.T) {
	id := uuid.New()
	corr := uuid.New()
	ev := DomainEvent{
		EventID:       id,
		CorrelationID: corr,
		AggregateID:   "c1",
		EventType:     EventCourseCreated,
		TenantID:      "bgu1",
		EventData:     []byte(`{"name":"algebra"}`),
		Version:       1,
	}
	ev.Normalize()

	require.Equal(t, id, ev.EventID)
	require.Equal(t, corr, ev.CorrelationID)
	require.JSONEq(t, `{"name":"algebra"}`, string(ev.EventData))
}

func TestValidateRejectsBeforeIO(t *testing.T) {
	cases := []struct {
		name string
		ev   DomainEvent
	}{
		{"bad tenant", DomainEvent{TenantID: "no-dashes", AggregateID: "c1", EventType: "x", Version: 1}},
		{"missing aggregate", DomainEvent{TenantID: "bgu1", EventType: "x", Version: 1}},
		{"missing event type", DomainEvent{TenantID: "bgu1", AggregateID: "c1", Version: 1}},
		{"zero version", DomainEvent{TenantID: "bgu1", AggregateID: "c1", EventType: "x", Version: 0}},
		{"bad json", DomainEvent{TenantID: "bgu1", AggregateID: "c1", EventType: "x", Version: 1, EventData: []byte(`{`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ev.Validate()
			require.Error(t, err)
			require.True(t, errs.IsKind(err, errs.KindValidation))
		})
	}
}

func TestValidateAcceptsWellFormedEvent(t *testing.T) {
	ev := DomainEvent{
		TenantID:    "bgu1",
		AggregateID: "c1",
		EventType:   EventGradeUpdated,
		EventData:   []byte(`{"score":95}`),
		Version:     3,
	}
	ev.Normalize()
	require.NoError(t, ev.Validate())
}
