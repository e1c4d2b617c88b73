package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/settlement/internal/observability/logger"
	"github.com/smallbiznis/settlement/internal/orgcontext"
	settlementdomain "github.com/smallbiznis/settlement/internal/settlement/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandlePaymentReturn verifies a payment when the payer comes back from the
// network. Every query parameter is passed through because each network names
// its token differently.
func (s *Server) HandlePaymentReturn(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	var orgID snowflake.ID
	if raw := optionalOrgFromRequest(c); raw != "" {
		parsed, err := orgcontext.ParseOrgID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org_id"))
			return
		}
		orgID = parsed
	}

	params := make(map[string]string, len(c.Request.URL.Query()))
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	if c.Request.Method == http.MethodPost {
		// Webpay posts the token back as a form field.
		if err := c.Request.ParseForm(); err == nil {
			for key, values := range c.Request.PostForm {
				if _, exists := params[key]; !exists && len(values) > 0 {
					params[key] = values[0]
				}
			}
		}
	}

	result, err := s.settlementSvc.VerifyPayment(c.Request.Context(), settlementdomain.ReturnEvidence{
		Provider: provider,
		OrgID:    orgID,
		Params:   params,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// HandlePaymentWebhook acknowledges processed, duplicate, ignored and unmatched
// events with 200. Bad signatures get 400, bodies over the limit 413 and
// transient failures 503 so the network retries.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(payload) > maxWebhookBody {
		AbortWithError(c, ErrPayloadTooLarge)
		return
	}

	processed, err := s.settlementSvc.ProcessWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !processed {
		logger.FromContext(c.Request.Context()).Debug("webhook acknowledged without settlement",
			zap.String("provider", provider),
		)
	}

	acknowledgeWebhook(c, provider)
}

// acknowledgeWebhook answers in the shape each network expects; Adyen treats
// anything but "[accepted]" as a delivery failure.
func acknowledgeWebhook(c *gin.Context, provider string) {
	if provider == "adyen" {
		c.String(http.StatusOK, "[accepted]")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
