package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	apperrors "github.com/carelane/booking-api/pkg/errors"
)

type Response struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
	Data    interface{}            `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError renders an application error with its mapped status code and
// the context a caller needs to act on it. Non-application errors become an
// opaque 500.
func RespondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.StatusCode(), &Response{
			Status:  "error",
			Message: appErr.Message,
			Code:    string(appErr.Code),
			Context: appErr.Context,
		})
		return
	}
	c.JSON(500, NewErrorResponse("internal server error"))
}
