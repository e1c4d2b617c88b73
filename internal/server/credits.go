package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
)

const maxCreditHistory = 500

func (s *Server) GetCreditBalance(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	summary, err := s.creditSvc.Summary(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) ListCreditTransactions(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil || (limit != nil && (*limit <= 0 || *limit > maxCreditHistory)) {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	size := 0
	if limit != nil {
		size = *limit
	}

	history, err := s.creditSvc.History(c.Request.Context(), orgID, size)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}

func (s *Server) ListCreditCosts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.costs.List()})
}

type reserveCreditsRequest struct {
	ServiceCode string `json:"service_code"`
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"`
}

// ReserveCredits holds credits before a metered operation. The amount comes from
// the cost table when only a service code is given.
func (s *Server) ReserveCredits(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	var req reserveCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	amount := req.Amount
	serviceCode := strings.TrimSpace(req.ServiceCode)
	if amount == 0 {
		if serviceCode == "" {
			AbortWithError(c, newValidationError("service_code", "required", "service_code or amount is required"))
			return
		}
		cost, err := s.costs.Cost(serviceCode)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		amount = cost
	}

	reservationID, err := s.creditSvc.Reserve(c.Request.Context(), creditdomain.ReserveRequest{
		OrgID:       orgID,
		Amount:      amount,
		ServiceCode: serviceCode,
		ReferenceID: strings.TrimSpace(req.ReferenceID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"reservation_id": reservationID.String(),
		"amount":         amount,
		"service_code":   serviceCode,
	}})
}

func (s *Server) ConfirmReservation(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	reservationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := s.creditSvc.Confirm(c.Request.Context(), orgID, reservationID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"reservation_id": reservationID.String(), "status": "consumed"}})
}

func (s *Server) ReleaseReservation(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	reservationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := s.creditSvc.Release(c.Request.Context(), orgID, reservationID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"reservation_id": reservationID.String(), "status": "released"}})
}
