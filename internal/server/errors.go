package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	organizationdomain "github.com/smallbiznis/settlement/internal/organization/domain"
	"github.com/smallbiznis/settlement/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/settlement/internal/pricing/domain"
	settlementdomain "github.com/smallbiznis/settlement/internal/settlement/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`

	Required  *int64 `json:"required,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrOrgRequired        = errors.New("org_required")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrPayloadTooLarge    = errors.New("payload_too_large")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var insufficient *creditdomain.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return http.StatusPaymentRequired, errorPayload{
			Type:      "insufficient_credits",
			Message:   "insufficient credits",
			Required:  &insufficient.Required,
			Available: &insufficient.Available,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrOrgRequired),
		errors.Is(err, orgcontext.ErrMissingOrganization):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "organization required",
		}
	case errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_webhook",
			Message: err.Error(),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "request body too large",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		paymentdomain.IsTransient(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, settlementdomain.ErrSessionOpenFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: "payment network rejected the session",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request log with the same taxonomy the client sees.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isOrderValidationError(err),
		isCreditValidationError(err),
		isPricingValidationError(err),
		isSettlementValidationError(err),
		isOrganizationValidationError(err):
		return true
	default:
		return false
	}
}

func isOrderValidationError(err error) bool {
	switch {
	case errors.Is(err, orderdomain.ErrInvalidOrganization),
		errors.Is(err, orderdomain.ErrInvalidCurrency),
		errors.Is(err, orderdomain.ErrInvalidProductType),
		errors.Is(err, orderdomain.ErrInvalidCredits),
		errors.Is(err, orderdomain.ErrInvalidAmount),
		errors.Is(err, orderdomain.ErrInvalidProvider),
		errors.Is(err, orderdomain.ErrRefundExceedsPaid),
		errors.Is(err, orderdomain.ErrZeroAmountOrder),
		errors.Is(err, orderdomain.ErrInvalidRefundDestination):
		return true
	default:
		return false
	}
}

func isCreditValidationError(err error) bool {
	switch {
	case errors.Is(err, creditdomain.ErrInvalidOrganization),
		errors.Is(err, creditdomain.ErrInvalidAmount):
		return true
	default:
		return false
	}
}

func isPricingValidationError(err error) bool {
	switch {
	case errors.Is(err, pricingdomain.ErrDiscountInactive),
		errors.Is(err, pricingdomain.ErrDiscountExhausted),
		errors.Is(err, pricingdomain.ErrDiscountCurrencyMismatch),
		errors.Is(err, pricingdomain.ErrDiscountNotFound),
		errors.Is(err, pricingdomain.ErrMissingCreditPrice),
		errors.Is(err, pricingdomain.ErrInvalidCredits),
		errors.Is(err, pricingdomain.ErrInvalidAmount),
		errors.Is(err, pricingdomain.ErrUnknownServiceCode):
		return true
	default:
		return false
	}
}

func isSettlementValidationError(err error) bool {
	switch {
	case errors.Is(err, settlementdomain.ErrAmountMismatch),
		errors.Is(err, settlementdomain.ErrProviderMismatch),
		errors.Is(err, settlementdomain.ErrMissingEvidence),
		errors.Is(err, settlementdomain.ErrInvalidReturnOrg),
		errors.Is(err, settlementdomain.ErrOrderNotFree),
		errors.Is(err, settlementdomain.ErrInvalidCheckout):
		return true
	default:
		return false
	}
}

func isOrganizationValidationError(err error) bool {
	switch {
	case errors.Is(err, organizationdomain.ErrInvalidName),
		errors.Is(err, organizationdomain.ErrInvalidCountry),
		errors.Is(err, notificationdomain.ErrMissingRecipient):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, orderdomain.ErrInvalidTransition),
		errors.Is(err, orderdomain.ErrOrderExpired),
		errors.Is(err, orderdomain.ErrOrderNotPayable),
		errors.Is(err, orderdomain.ErrOrderNotRefundable),
		errors.Is(err, creditdomain.ErrReservationClosed),
		errors.Is(err, organizationdomain.ErrOrganizationExists):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, orderdomain.ErrOrderExpired):
		return "order expired"
	case errors.Is(err, orderdomain.ErrOrderNotPayable):
		return "order is not payable"
	case errors.Is(err, creditdomain.ErrReservationClosed):
		return "reservation already closed"
	default:
		return "conflict"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, orderdomain.ErrPaymentNotFound),
		errors.Is(err, orderdomain.ErrInvoiceNotFound),
		errors.Is(err, orderdomain.ErrRefundNotFound),
		errors.Is(err, creditdomain.ErrReservationNotFound),
		errors.Is(err, organizationdomain.ErrOrganizationNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrWebhookUnsupported),
		errors.Is(err, settlementdomain.ErrUnmatchedPayment),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return rootCode(err)
	}
}

// rootCode returns the innermost sentinel message so wrapped errors keep a stable code.
func rootCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "amount_mismatch":
		return "reported amount does not match the payment"
	case "refund_exceeds_paid":
		return "refund exceeds the amount paid"
	default:
		return "invalid value"
	}
}
