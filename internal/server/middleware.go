package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/settlement/internal/observability/context"
	"github.com/smallbiznis/settlement/internal/orgcontext"
)

const (
	HeaderOrg   = "X-Org-Id"
	queryOrgKey = "org_id"
)

// OrgContext resolves the organization from the X-Org-Id header. Authentication
// happens upstream; this only scopes the request.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := orgcontext.ParseOrgID(c.GetHeader(HeaderOrg))
		if err != nil {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// optionalOrgFromRequest is used by the return endpoint, where the payer's browser
// carries the org on the query string and no header is set.
func optionalOrgFromRequest(c *gin.Context) string {
	if raw := strings.TrimSpace(c.Query(queryOrgKey)); raw != "" {
		return raw
	}
	return strings.TrimSpace(c.GetHeader(HeaderOrg))
}
