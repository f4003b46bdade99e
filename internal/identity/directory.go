package identity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/nutri-api/internal/config"
	"github.com/jwalitptl/nutri-api/pkg/metrics"
)

// Directory answers whether an identity exists at the identity provider.
type Directory interface {
	UserExists(ctx context.Context, uid string) (bool, error)
}

// RESTDirectory queries the provider's user endpoint.
type RESTDirectory struct {
	client  *resty.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewRESTDirectory(cfg config.DirectoryConfig, logger zerolog.Logger, m *metrics.Metrics) *RESTDirectory {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &RESTDirectory{
		client:  client,
		logger:  logger,
		metrics: m,
	}
}

func (d *RESTDirectory) UserExists(ctx context.Context, uid string) (bool, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetPathParam("uid", uid).
		Get("/users/{uid}")
	if err != nil {
		d.metrics.DirectoryLookup("error")
		return false, fmt.Errorf("directory lookup for %s: %w", uid, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		d.metrics.DirectoryLookup("found")
		return true, nil
	case http.StatusNotFound:
		d.metrics.DirectoryLookup("not_found")
		return false, nil
	default:
		d.metrics.DirectoryLookup("error")
		d.logger.Warn().
			Int("status", resp.StatusCode()).
			Str("uid", uid).
			Msg("unexpected identity directory response")
		return false, fmt.Errorf("directory lookup for %s: unexpected status %d", uid, resp.StatusCode())
	}
}

// CachedDirectory memoizes lookups. Misses are kept for a shorter time so a
// freshly registered identity becomes linkable quickly.
type CachedDirectory struct {
	next        Directory
	cache       *cache.Cache
	negativeTTL time.Duration
}

func NewCachedDirectory(next Directory, ttl, negativeTTL time.Duration) *CachedDirectory {
	return &CachedDirectory{
		next:        next,
		cache:       cache.New(ttl, 2*ttl),
		negativeTTL: negativeTTL,
	}
}

func (d *CachedDirectory) UserExists(ctx context.Context, uid string) (bool, error) {
	if v, ok := d.cache.Get(uid); ok {
		return v.(bool), nil
	}

	exists, err := d.next.UserExists(ctx, uid)
	if err != nil {
		return false, err
	}

	if exists {
		d.cache.SetDefault(uid, true)
	} else if d.negativeTTL > 0 {
		d.cache.Set(uid, false, d.negativeTTL)
	}
	return exists, nil
}
