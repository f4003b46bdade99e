package httputil

import (
	stderrors "errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jwalitptl/nutri-api/pkg/errors"
)

func init() {
	// Report validation failures under the JSON field names clients send.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// SuccessResponse wraps all successful API responses
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message,omitempty"`
}

// ErrorResponse wraps all failed API responses
type ErrorResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Errors  interface{} `json:"errors,omitempty"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// RespondWithError maps err onto the error envelope. The error is also attached
// to the gin context so the audit middleware can record denials.
func RespondWithError(c *gin.Context, err error) {
	_ = c.Error(err)

	appErr, ok := apperrors.As(err)
	if !ok {
		log.Error().
			Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: apperrors.MessageInternal})
		return
	}

	status := appErr.StatusCode()
	resp := ErrorResponse{Message: appErr.Message}

	switch appErr.Kind {
	case apperrors.KindForbidden:
		resp.Message = apperrors.MessageForbidden
	case apperrors.KindUnauthenticated:
		resp.Message = apperrors.MessageUnauthenticated
	case apperrors.KindValidation:
		if len(appErr.Fields) > 0 {
			resp.Errors = appErr.Fields
		}
	case apperrors.KindIntegrity, apperrors.KindInternal:
		log.Error().
			Err(appErr.Err).
			Str("reason", appErr.Reason).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("request failed")
		resp.Message = apperrors.MessageInternal
	case apperrors.KindNotFound, apperrors.KindConflict:
	}

	c.JSON(status, resp)
}

const msgBodyRequired = "request body is required"

// BindJSON decodes the request body into dst and converts binding failures into
// a validation error with one entry per invalid field.
func BindJSON(c *gin.Context, dst interface{}) error {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return nil
	}

	if stderrors.Is(err, io.EOF) {
		return apperrors.Validation(msgBodyRequired, apperrors.FieldError{Field: "body", Message: "field is required"})
	}

	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		fields := make([]apperrors.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, apperrors.FieldError{
				Field:   fe.Field(),
				Message: fieldMessage(fe),
			})
		}
		return apperrors.Validation("invalid request body", fields...)
	}

	return apperrors.Validation("malformed request body", apperrors.FieldError{
		Field:   "body",
		Message: err.Error(),
	})
}

// BindOptionalJSON is BindJSON for endpoints whose body may be omitted.
func BindOptionalJSON(c *gin.Context, dst interface{}) error {
	err := BindJSON(c, dst)
	if appErr, ok := apperrors.As(err); ok && appErr.Message == msgBodyRequired {
		return nil
	}
	return err
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "email":
		return "invalid email format"
	case "min":
		return "value is too short"
	case "max":
		return "value is too long"
	}
	return "invalid value"
}
