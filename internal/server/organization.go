package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	organizationdomain "github.com/smallbiznis/settlement/internal/organization/domain"
)

type createOrganizationRequest struct {
	Name         string `json:"name"`
	BillingEmail string `json:"billing_email"`
	CountryCode  string `json:"country_code"`
}

func (s *Server) CreateOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	org, err := s.organizationSvc.Create(c.Request.Context(), organizationdomain.CreateRequest{
		Name:         strings.TrimSpace(req.Name),
		BillingEmail: strings.TrimSpace(req.BillingEmail),
		CountryCode:  strings.TrimSpace(req.CountryCode),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": org})
}

func (s *Server) GetOrganization(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	org, err := s.organizationSvc.Get(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": org})
}
