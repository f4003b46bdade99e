// Package audit writes the authorization audit trail: every denial and every
// committed lifecycle transition, as structured JSON.
package audit

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/pkg/metrics"
)

type Logger struct {
	zl      *zap.Logger
	metrics *metrics.Metrics
}

func New(zl *zap.Logger, m *metrics.Metrics) *Logger {
	return &Logger{zl: zl, metrics: m}
}

// NewJSON builds a production JSON logger writing to output ("stdout",
// "stderr" or a file path).
func NewJSON(output string, m *metrics.Metrics) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{output}
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]interface{}{"stream": "authz_audit"}

	zl, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build audit logger: %w", err)
	}
	return New(zl, m), nil
}

func Nop() *Logger {
	return New(zap.NewNop(), nil)
}

// Denial describes one rejected request.
type Denial struct {
	Endpoint  string
	Method    string
	RequestID string
	Actor     model.Claims
	Reason    string
}

func (l *Logger) Denied(d Denial) {
	l.metrics.AuthzDenied(d.Actor.Role.String(), d.Endpoint)
	l.zl.Warn("authorization denied",
		zap.String("endpoint", d.Endpoint),
		zap.String("method", d.Method),
		zap.String("request_id", d.RequestID),
		zap.String("uid", d.Actor.UID),
		zap.String("role", d.Actor.Role.String()),
		zap.String("clinic_id", d.Actor.ClinicID),
		zap.String("reason", d.Reason),
	)
}

// Transition records a committed state change on an entity.
func (l *Logger) Transition(actor model.Claims, entity, entityID, action string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("entity", entity),
		zap.String("entity_id", entityID),
		zap.String("action", action),
		zap.String("uid", actor.UID),
		zap.String("role", actor.Role.String()),
		zap.String("clinic_id", actor.ClinicID),
	}
	l.zl.Info("state transition", append(base, fields...)...)
}

func (l *Logger) Sync() error {
	return l.zl.Sync()
}
