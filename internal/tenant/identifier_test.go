package tenant

import (
	"testing"

	"github.com/stretchr/testify/require"

	"academic-records/internal/errs"
)

func TestSchemaName(t *testing.T) {
	name, err := SchemaName("bgu1")
	require.NoError(t, err)
	require.Equal(t, "tenant_bgu1", name)

	name, err = SchemaName("tau_2024")
	require.NoError(t, err)
	require.Equal(t, "tenant_tau_2024", name)
}

func TestSchemaNameRejectsUnsafeIDs(t *testing.T) {
	for _, id := range []string{"", "bgu-1", "bgu.events", `x"; DROP SCHEMA public;--`} {
		_, err := SchemaName(id)
		require.Error(t, err, "id %q", id)
		require.True(t, errs.IsKind(err, errs.KindValidation))
	}
}

func TestQuoteQualified(t *testing.T) {
	q, err := QuoteQualified("tenant_bgu1", "events")
	require.NoError(t, err)
	require.Equal(t, `"tenant_bgu1"."events"`, q)
}

func TestQuoteQualifiedRejectsUnsafeParts(t *testing.T) {
	_, err := QuoteQualified("tenant_bgu1", `events"; --`)
	require.Error(t, err)

	_, err = QuoteQualified("1tenant", "events")
	require.Error(t, err)
}

func TestQuoteIdent(t *testing.T) {
	q, err := QuoteIdent("dashboard_summary")
	require.NoError(t, err)
	require.Equal(t, `"dashboard_summary"`, q)

	_, err = QuoteIdent("bad name")
	require.Error(t, err)
}
