package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"reward-anomaly-engine/internal/anomaly"
)

// ErrorDetail is one entry of an error response.
type ErrorDetail struct {
	Detail string `json:"detail"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Errors []ErrorDetail `json:"errors"`
}

// statusFor maps engine errors to HTTP statuses. Permission problems are kept
// apart from data availability problems.
func statusFor(err error) int {
	switch {
	case errors.Is(err, anomaly.ErrInvalidTimeframe):
		return http.StatusBadRequest
	case errors.Is(err, anomaly.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, anomaly.ErrStoreTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, anomaly.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), ErrorResponse{
		Errors: []ErrorDetail{{Detail: anomaly.Detail(err)}},
	})
}

func abortUnauthenticated(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="rewardwatch"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Errors: []ErrorDetail{{Detail: "authentication required"}},
	})
}
