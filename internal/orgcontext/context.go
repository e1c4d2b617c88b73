package orgcontext

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// ErrMissingOrganization is returned when an operation needs an org scope and none is set.
var ErrMissingOrganization = errors.New("missing_organization")

// OrgContextKey is the request context key for the active organization ID.
type OrgContextKey struct{}

// WithOrgID stores the org ID in the context.
func WithOrgID(ctx context.Context, orgID snowflake.ID) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, orgID)
}

// OrgIDFromContext returns the org ID from context, if set.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	switch typed := ctx.Value(OrgContextKey{}).(type) {
	case snowflake.ID:
		return typed, typed != 0
	case int64:
		return snowflake.ID(typed), typed != 0
	case string:
		parsed, err := ParseOrgID(typed)
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// RequireOrgID is OrgIDFromContext for callers that cannot proceed without a tenant.
func RequireOrgID(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := OrgIDFromContext(ctx)
	if !ok {
		return 0, ErrMissingOrganization
	}
	return orgID, nil
}

func ParseOrgID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrMissingOrganization
	}
	parsed, err := snowflake.ParseString(raw)
	if err != nil || parsed <= 0 {
		return 0, ErrMissingOrganization
	}
	return parsed, nil
}
