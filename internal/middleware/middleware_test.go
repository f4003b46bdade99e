package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jwalitptl/nutri-api/internal/audit"
	"github.com/jwalitptl/nutri-api/internal/model"
	apperrors "github.com/jwalitptl/nutri-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeResolver map[string]model.Claims

func (f fakeResolver) Resolve(_ context.Context, header string) (model.Claims, error) {
	c, ok := f[header]
	if !ok {
		return model.Claims{}, apperrors.Unauthenticated(errors.New("unknown token"))
	}
	return c, nil
}

func serve(engine *gin.Engine, method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestAuthGates(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	auth := NewAuthMiddleware(fakeResolver{
		"admin":    {UID: "a", Role: model.RoleClinicAdmin, ClinicID: "c1"},
		"unscoped": {UID: "b", Role: model.RoleClinicAdmin},
		"patient":  {UID: "p", Role: model.RolePatient},
		"roleless": {UID: "r"},
	})

	engine := gin.New()
	engine.Use(RequestID(), AuditDenials(audit.New(zap.New(core), nil)), auth.Authenticate())
	engine.GET("/admin",
		auth.RequireRoles(model.RoleClinicAdmin, model.RolePlatformAdmin), auth.RequireClinicScope(),
		func(c *gin.Context) {
			claims, ok := ClaimsFrom(c)
			require.True(t, ok)
			c.String(http.StatusOK, claims.UID)
		})

	tests := []struct {
		name   string
		token  string
		status int
		reason string
	}{
		{"allowed", "admin", http.StatusOK, ""},
		{"no credentials", "", http.StatusUnauthorized, ""},
		{"bad credentials", "forged", http.StatusUnauthorized, ""},
		{"wrong role", "patient", http.StatusForbidden, "role patient not allowed"},
		{"missing role", "roleless", http.StatusForbidden, "missing role claim"},
		{"missing clinic", "unscoped", http.StatusForbidden, "missing clinic scope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := logs.Len()
			w := serve(engine, http.MethodGet, "/admin", tt.token)
			assert.Equal(t, tt.status, w.Code)

			switch tt.status {
			case http.StatusOK:
				assert.Equal(t, "a", w.Body.String())
			case http.StatusUnauthorized:
				assert.JSONEq(t, `{"success":false,"message":"Unauthenticated"}`, w.Body.String())
				assert.Equal(t, before, logs.Len(), "only 403s reach the audit trail")
			case http.StatusForbidden:
				assert.JSONEq(t, `{"success":false,"message":"Forbidden"}`, w.Body.String())
				require.Equal(t, before+1, logs.Len())
				entry := logs.All()[logs.Len()-1]
				assert.Equal(t, tt.reason, entry.ContextMap()["reason"])
				assert.NotEmpty(t, entry.ContextMap()["request_id"])
			}
		})
	}
}

func TestClaimsFromWithoutAuthentication(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	claims, ok := ClaimsFrom(c)
	assert.False(t, ok)
	assert.Equal(t, model.Claims{}, claims)
}

func TestRequestID(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestID)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, "req-123")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Body.String())
	assert.Equal(t, "req-123", w.Header().Get(HeaderXRequestID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, strings.Repeat("x", maxRequestIDLength+1))
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Len(t, w.Body.String(), 36, "oversized ids are replaced with a uuid")
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 2})
	engine := gin.New()
	engine.Use(limiter.RateLimit())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	request := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":4000"
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, request("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, request("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, request("10.0.0.2"), "buckets are per client")
}

func TestSizeLimit(t *testing.T) {
	engine := gin.New()
	engine.Use(SizeLimit(8))
	engine.POST("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"far too long"}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRecovery(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID(), Recovery())
	engine.GET("/", func(*gin.Context) { panic("nil map write in handler") })

	w := serve(engine, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Internal server error"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "nil map")
}
