// internal/tenant/identifier.go
package tenant

import (
	"fmt"
	"regexp"

	"github.com/lib/pq"

	"academic-records/internal/errs"
	"academic-records/internal/model"
)

// SQL identifiers are never built from raw input. Every dynamic name goes
// through the allow-list below and is then quoted with pq.QuoteIdentifier.

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// SchemaName returns the deterministic schema for a tenant, rejecting
// unsafe ids before any SQL text is assembled.
func SchemaName(tenantID string) (string, error) {
	if !model.ValidTenantID(tenantID) {
		return "", errs.Validation(tenantID, "invalid tenant id")
	}
	return "tenant_" + tenantID, nil
}

// QuoteQualified returns schema.name with both parts validated and quoted.
func QuoteQualified(schema, name string) (string, error) {
	if !identPattern.MatchString(schema) || !identPattern.MatchString(name) {
		return "", errs.Validation("", fmt.Sprintf("unsafe SQL identifier %q.%q", schema, name))
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name), nil
}

// QuoteIdent validates and quotes a single identifier.
func QuoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", errs.Validation("", fmt.Sprintf("unsafe SQL identifier %q", name))
	}
	return pq.QuoteIdentifier(name), nil
}
