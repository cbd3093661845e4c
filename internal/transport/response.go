package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// Response is the common result envelope.
type Response struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message,omitempty"`
}

// RegisterResponse carries the allocated id.
type RegisterResponse struct {
	Response
	ScID int32 `json:"scId,omitempty"`
}

// ClickResponse carries a click outcome.
type ClickResponse struct {
	Response
	State       domain.ClickState `json:"state"`
	ResumeToken string            `json:"resumeToken,omitempty"`
}

// statusFor maps a result code to an HTTP status.
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeOK:
		return http.StatusOK
	case domain.CodeValueInvalid:
		return http.StatusBadRequest
	case domain.CodeComponentNotExist:
		return http.StatusNotFound
	case domain.CodeServiceNotExist:
		return http.StatusServiceUnavailable
	case domain.CodeCallerInvalid, domain.CodeInMaliciousList:
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}

func newResponse(err error) Response {
	if err == nil {
		return Response{Code: domain.CodeOK}
	}
	return Response{Code: domain.CodeOf(err), Message: domain.MessageOf(err)}
}

func abortWithError(c *gin.Context, err error) {
	r := newResponse(err)
	c.AbortWithStatusJSON(statusFor(r.Code), r)
}

// abortWithStatus writes the envelope for err under an explicit HTTP status.
func abortWithStatus(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, newResponse(err))
}
