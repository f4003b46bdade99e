package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/nutri-api/internal/config"
	"github.com/jwalitptl/nutri-api/internal/model"
	apperrors "github.com/jwalitptl/nutri-api/pkg/errors"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrUnsupportedScheme  = errors.New("unsupported authorization scheme")
	ErrMissingSubject     = errors.New("token has no subject")
)

// TokenClaims is the claim set the identity provider signs.
type TokenClaims struct {
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	ClinicID string `json:"clinicId,omitempty"`
	jwt.RegisteredClaims
}

// Resolver verifies bearer credentials and produces caller claims.
type Resolver struct {
	secret []byte
	parser *jwt.Parser
	logger zerolog.Logger
}

func NewResolver(cfg config.JWTConfig, logger zerolog.Logger) *Resolver {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Resolver{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
		logger: logger,
	}
}

// Resolve verifies the Authorization header value. Every failure collapses into
// one generic unauthenticated error; the cause is only logged at debug level.
func (r *Resolver) Resolve(ctx context.Context, header string) (model.Claims, error) {
	claims, err := r.resolve(header)
	if err != nil {
		r.logger.Debug().Err(err).Msg("credential verification failed")
		return model.Claims{}, apperrors.Unauthenticated(err)
	}
	return claims, nil
}

func (r *Resolver) resolve(header string) (model.Claims, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return model.Claims{}, ErrMissingCredentials
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return model.Claims{}, ErrUnsupportedScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Claims{}, ErrMissingCredentials
	}

	return r.Verify(token)
}

// Verify checks a raw token and maps its claims.
func (r *Resolver) Verify(token string) (model.Claims, error) {
	var tc TokenClaims
	parsed, err := r.parser.ParseWithClaims(token, &tc, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return r.secret, nil
	})
	if err != nil {
		return model.Claims{}, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return model.Claims{}, errors.New("invalid token")
	}
	if strings.TrimSpace(tc.Subject) == "" {
		return model.Claims{}, ErrMissingSubject
	}

	claims := model.Claims{
		UID:      tc.Subject,
		Email:    tc.Email,
		ClinicID: strings.TrimSpace(tc.ClinicID),
	}
	if role, ok := model.ParseRole(tc.Role); ok {
		claims.Role = role
	} else if tc.Role != "" {
		r.logger.Debug().Str("uid", tc.Subject).Str("role", tc.Role).Msg("ignoring unknown role claim")
	}

	return claims, nil
}

// SignToken issues a token in the provider's format. The API never issues
// tokens itself; this exists for local tooling and tests.
func SignToken(secret string, claims model.Claims, ttl time.Duration, now time.Time) (string, error) {
	tc := TokenClaims{
		Email:    claims.Email,
		Role:     string(claims.Role),
		ClinicID: claims.ClinicID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString([]byte(secret))
}
