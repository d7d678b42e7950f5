package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Readiness is the /readyz body: overall status plus one entry per check.
type Readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondReadiness(c *gin.Context, ready bool, checks map[string]string) {
	if !ready {
		c.JSON(http.StatusServiceUnavailable, Readiness{Status: "unavailable", Checks: checks})
		return
	}
	c.JSON(http.StatusOK, Readiness{Status: "ready", Checks: checks})
}
