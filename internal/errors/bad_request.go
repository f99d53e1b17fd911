package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithBadRequest sends a 400 Bad Request response and aborts the request.
func AbortWithBadRequest(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusBadRequest, NewAPIError(message, details).WithCode("BAD_REQUEST"))
}
