package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
)

type refundRequest struct {
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	Destination string `json:"destination"`
}

func (s *Server) RequestRefund(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	refund, err := s.orderSvc.RequestRefund(c.Request.Context(), orderdomain.RefundRequestInput{
		OrgID:       orgID,
		OrderID:     orderID,
		Amount:      req.Amount,
		Reason:      strings.TrimSpace(req.Reason),
		Destination: orderdomain.RefundDestination(strings.TrimSpace(req.Destination)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": refund})
}

func (s *Server) ListOrderRefunds(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	refunds, err := s.orderSvc.ListRefunds(c.Request.Context(), orgID, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": refunds})
}

func (s *Server) ApproveRefund(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	refundID, ok := pathID(c, "id")
	if !ok {
		return
	}

	refund, err := s.orderSvc.ApproveRefund(c.Request.Context(), orgID, refundID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": refund})
}

func (s *Server) ProcessRefund(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	refundID, ok := pathID(c, "id")
	if !ok {
		return
	}

	refund, err := s.orderSvc.ProcessRefund(c.Request.Context(), orgID, refundID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": refund})
}

type completeRefundRequest struct {
	ProviderRefundID string `json:"provider_refund_id"`
}

func (s *Server) CompleteRefund(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	refundID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req completeRefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	refund, err := s.orderSvc.CompleteRefund(c.Request.Context(), orgID, refundID, strings.TrimSpace(req.ProviderRefundID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": refund})
}

type rejectRefundRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) RejectRefund(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	refundID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req rejectRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		AbortWithError(c, newValidationError("reason", "required", "reason is required"))
		return
	}

	refund, err := s.orderSvc.RejectRefund(c.Request.Context(), orgID, refundID, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": refund})
}
