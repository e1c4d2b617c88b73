package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/settlement/internal/observability/logger"
	"github.com/smallbiznis/settlement/internal/orgcontext"
	"go.uber.org/zap"
)

const rateLimitReasonOrgRate = "org-rate"

// ReservationRateLimit throttles credit reservations per organization. A Redis
// failure fails closed with 503 so a broken limiter cannot be used to bypass it.
func (s *Server) ReservationRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.reservationLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		orgID, ok := orgcontext.OrgIDFromContext(ctx)
		if !ok {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		result, err := s.reservationLimiter.AllowOrg(ctx, orgID)
		if err != nil {
			logger.FromContext(ctx).Warn("reservation rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("reservation rate limit exceeded",
				zap.String("reason", rateLimitReasonOrgRate),
				zap.String("endpoint", endpoint),
			)
			s.metrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonOrgRate)

			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonOrgRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.metrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
