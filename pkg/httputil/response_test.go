package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/nutri-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func respond(err error) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	RespondWithError(c, err)
	return w
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "forbidden hides the reason",
			err:    apperrors.Forbidden("24h cancellation lock"),
			status: http.StatusForbidden,
			body:   `{"success":false,"message":"Forbidden"}`,
		},
		{
			name:   "unauthenticated hides the cause",
			err:    apperrors.Unauthenticated(errors.New("token is expired")),
			status: http.StatusUnauthorized,
			body:   `{"success":false,"message":"Unauthenticated"}`,
		},
		{
			name:   "not found",
			err:    apperrors.NotFound("appointment"),
			status: http.StatusNotFound,
			body:   `{"success":false,"message":"appointment not found"}`,
		},
		{
			name:   "conflict",
			err:    apperrors.Conflict("identity already linked to another patient"),
			status: http.StatusConflict,
			body:   `{"success":false,"message":"identity already linked to another patient"}`,
		},
		{
			name:   "validation carries field errors",
			err:    apperrors.Validation("invalid request body", apperrors.FieldError{Field: "name", Message: "field is required"}),
			status: http.StatusBadRequest,
			body:   `{"success":false,"message":"invalid request body","errors":[{"field":"name","message":"field is required"}]}`,
		},
		{
			name:   "integrity fault is a generic 500",
			err:    apperrors.Integrity("scheduled appointment a1 has no scheduledFor"),
			status: http.StatusInternalServerError,
			body:   `{"success":false,"message":"Internal server error"}`,
		},
		{
			name:   "unknown errors are a generic 500",
			err:    errors.New("pq: relation \"patients\" does not exist"),
			status: http.StatusInternalServerError,
			body:   `{"success":false,"message":"Internal server error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := respond(tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestRespondWithSuccessKeepsNullData(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondWithSuccess(c, http.StatusOK, nil, "")

	assert.JSONEq(t, `{"success":true,"data":null}`, w.Body.String())
}

type bindTarget struct {
	Name  string  `json:"name" binding:"required,max=5"`
	Email *string `json:"email" binding:"omitempty,email"`
}

func bind(body string, optional bool) error {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var dst bindTarget
	if optional {
		return BindOptionalJSON(c, &dst)
	}
	return BindJSON(c, &dst)
}

func TestBindJSON(t *testing.T) {
	require.NoError(t, bind(`{"name":"Ada"}`, false))

	err := bind(``, false)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "request body is required", appErr.Message)
	assert.Equal(t, []apperrors.FieldError{{Field: "body", Message: "field is required"}}, appErr.Fields)

	err = bind(`{"name":"Adalbert","email":"nope"}`, false)
	appErr, ok = apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindValidation, appErr.Kind)
	assert.ElementsMatch(t, []apperrors.FieldError{
		{Field: "name", Message: "value is too long"},
		{Field: "email", Message: "invalid email format"},
	}, appErr.Fields)

	err = bind(`{"name":`, false)
	appErr, ok = apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "malformed request body", appErr.Message)
}

func TestBindOptionalJSON(t *testing.T) {
	assert.NoError(t, bind(``, true))
	assert.Error(t, bind(`{"name":""}`, true))
}

func TestErrorResponseShape(t *testing.T) {
	raw, err := json.Marshal(ErrorResponse{Message: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"message":"x"}`, string(raw))
}
