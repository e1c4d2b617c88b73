package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	settlementdomain "github.com/smallbiznis/settlement/internal/settlement/domain"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
)

type createOrderRequest struct {
	ProductType  string         `json:"product_type"`
	Currency     string         `json:"currency"`
	Credits      int64          `json:"credits"`
	Amount       int64          `json:"amount"`
	DiscountCode string         `json:"discount_code"`
	Description  string         `json:"description"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	order, err := s.orderSvc.CreateOrder(c.Request.Context(), orderdomain.CreateOrderRequest{
		OrgID:        orgID,
		ProductType:  orderdomain.ProductType(strings.TrimSpace(req.ProductType)),
		Currency:     strings.TrimSpace(req.Currency),
		Credits:      req.Credits,
		Amount:       req.Amount,
		DiscountCode: strings.TrimSpace(req.DiscountCode),
		Description:  strings.TrimSpace(req.Description),
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": order})
}

func (s *Server) ListOrders(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}

	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orders, pageInfo, err := s.orderSvc.ListOrders(c.Request.Context(), orderdomain.ListOrdersRequest{
		OrgID:      orgID,
		Status:     orderdomain.OrderStatus(strings.TrimSpace(query.Status)),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orders, "page_info": pageInfo})
}

func (s *Server) GetOrder(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := s.orderSvc.GetOrder(c.Request.Context(), orgID, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) GetOrderInvoice(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	invoice, err := s.orderSvc.GetInvoice(c.Request.Context(), orgID, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

type checkoutRequest struct {
	Provider      string `json:"provider"`
	CancelURL     string `json:"cancel_url"`
	CustomerEmail string `json:"customer_email"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		AbortWithError(c, newValidationError("provider", "required", "provider is required"))
		return
	}

	session, err := s.settlementSvc.CreateSession(c.Request.Context(), settlementdomain.CheckoutRequest{
		OrgID:         orgID,
		OrderID:       orderID,
		Provider:      req.Provider,
		CancelURL:     strings.TrimSpace(req.CancelURL),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": session})
}

func (s *Server) ConfirmFreeOrder(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.settlementSvc.ConfirmFreeOrder(c.Request.Context(), orgID, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CancelOrder(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req cancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = orderdomain.CancelReasonRequested
	}

	order, err := s.orderSvc.CancelOrder(c.Request.Context(), orgID, orderID, reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) CompleteOrder(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := s.orderSvc.CompleteOrder(c.Request.Context(), orgID, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) ListOrderPayments(c *gin.Context) {
	orgID, ok := requestOrgID(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payments, err := s.orderSvc.ListPayments(c.Request.Context(), orgID, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}
