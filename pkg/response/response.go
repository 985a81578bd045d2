package response

import (
	"net/http"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"
	"github.com/AvTe/RentConnect-sub000/internal/logger"

	"github.com/gin-gonic/gin"
)

const CodeSuccess = "OK"

type Response struct {
	Success bool        `json:"success"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Code:    CodeSuccess,
		Message: "created",
		Data:    data,
	})
}

// Error writes err using its AppError status and code. Unknown errors are
// logged and reported as INTERNAL_ERROR without leaking their text.
func Error(c *gin.Context, err error) {
	appErr := apperr.From(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.Error().
			Err(err).
			Str("path", c.FullPath()).
			Str("request_id", c.GetString("request_id")).
			Msg("request failed")
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, Response{
		Success: false,
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, apperr.ErrValidation.WithMessage(message))
}
