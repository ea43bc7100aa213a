package response

import (
	"github.com/gin-gonic/gin"
)

type ErrorBody struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// Error writes the error envelope and aborts the handler chain.
func Error(c *gin.Context, status int, code int, kind string, message string) {
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: ErrorBody{Code: code, Kind: kind, Message: message}})
}
