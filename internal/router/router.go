package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/nutri-api/internal/audit"
	"github.com/jwalitptl/nutri-api/internal/middleware"
	apperrors "github.com/jwalitptl/nutri-api/pkg/errors"
	"github.com/jwalitptl/nutri-api/pkg/httputil"
	"github.com/jwalitptl/nutri-api/pkg/metrics"
)

// Handler registers a resource's routes behind the auth gates.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup, *middleware.AuthMiddleware)
}

// PublicHandler registers routes that need no credentials.
type PublicHandler interface {
	RegisterRoutes(gin.IRouter)
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	auditor  *audit.Logger
	health   PublicHandler
	handlers []Handler
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

type RouterConfig struct {
	Mode        string
	RateLimit   rate.Limit
	RateBurst   int
	RateTTL     time.Duration
	MaxBodySize int64
}

func NewRouter(
	config RouterConfig,
	auth *middleware.AuthMiddleware,
	auditor *audit.Logger,
	health PublicHandler,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	handlers ...Handler,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	engine := gin.New()

	r := &Router{
		engine:   engine,
		auth:     auth,
		auditor:  auditor,
		health:   health,
		handlers: handlers,
		metrics:  m,
		gatherer: gatherer,
	}

	maxBody := config.MaxBodySize
	if maxBody <= 0 {
		maxBody = middleware.DefaultMaxBodySize
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		r.metricsMiddleware(),
		middleware.SizeLimit(maxBody),
	)

	if config.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
			TTL:   config.RateTTL,
		})
		engine.Use(limiter.RateLimit())
	}

	engine.NoRoute(func(c *gin.Context) {
		httputil.RespondWithError(c, apperrors.NotFound("route"))
	})

	r.setup()
	return r
}

func (r *Router) setup() {
	if r.health != nil {
		r.health.RegisterRoutes(r.engine)
	}
	if r.gatherer != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.engine.Group("/api/v1")
	api.Use(
		middleware.AuditDenials(r.auditor),
		r.auth.Authenticate(),
	)
	for _, h := range r.handlers {
		h.RegisterRoutes(api, r.auth)
	}
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		r.metrics.ObserveRequest(
			c.Request.Method,
			path,
			strconv.Itoa(status),
			time.Since(start).Seconds(),
			status >= http.StatusBadRequest,
		)
	}
}
