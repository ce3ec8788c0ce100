package response

import (
	"github.com/gin-gonic/gin"
)

type jsonResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Errors  string      `json:"errors,omitempty"`
	Status  string      `json:"status"`
}

// JSON writes the uniform response envelope.
func JSON(c *gin.Context, message string, status int, data interface{}, err error) {
	errMessage := ""
	if err != nil {
		errMessage = err.Error()
	}
	c.JSON(status, jsonResponse{
		Message: message,
		Data:    data,
		Errors:  errMessage,
		Status:  statusText(status),
	})
}

func statusText(status int) string {
	if status >= 200 && status < 300 {
		return "success"
	}
	return "error"
}
