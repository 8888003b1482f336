package server

import (
	"card-key-shop/internal/domain"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error string `json:"error"`
	Code  *int   `json:"code,omitempty"`
	Raw   string `json:"raw,omitempty"`
}

// errorResponse maps domain errors to a status and a terse body.
func errorResponse(err error) (int, errorBody) {
	var rejected *domain.RefundRejectedError
	switch {
	case errors.As(err, &rejected):
		code := rejected.Code
		return http.StatusBadGateway, errorBody{Error: rejected.Error(), Code: &code, Raw: rejected.Raw}
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, errorBody{Error: rootMessage(err)}
	case errors.Is(err, domain.ErrOutOfStock),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrNotRefundable),
		errors.Is(err, domain.ErrMissingTradeNo):
		return http.StatusBadRequest, errorBody{Error: rootMessage(err)}
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrAuthenticationFailed):
		return http.StatusUnauthorized, errorBody{Error: rootMessage(err)}
	case errors.Is(err, domain.ErrCSRFMismatch), errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: rootMessage(err)}
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, errorBody{Error: domain.ErrUpstreamUnavailable.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

// rootMessage returns the sentinel text only, so wrapped details never reach the client.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrProductNotFound, domain.ErrOrderNotFound, domain.ErrOutOfStock, domain.ErrInvalidState,
		domain.ErrNotRefundable, domain.ErrMissingTradeNo, domain.ErrUnauthenticated,
		domain.ErrAuthenticationFailed, domain.ErrCSRFMismatch, domain.ErrForbidden,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}

func abortWithError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) writeError(c *gin.Context, operation string, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "operation", operation, "error", err)
	}
	c.JSON(status, body)
}
