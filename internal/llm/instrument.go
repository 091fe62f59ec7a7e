package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/shopscout/internal/logging"
	"github.com/TobiSchelling/shopscout/internal/metrics"
)

type instrumented struct {
	next    Completer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Instrument wraps c so every completion is timed, counted and logged.
func Instrument(c Completer, m *metrics.Metrics, logger *zap.Logger) Completer {
	return &instrumented{next: c, metrics: m, logger: logging.OrNop(logger)}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := i.next.Complete(ctx, req)
	elapsed := time.Since(start)
	i.metrics.RecordLLM(req.Stage, elapsed, err)

	fields := []zap.Field{
		zap.String("stage", req.Stage),
		zap.String("model", i.next.Name()),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		i.logger.Warn("completion failed", append(fields, zap.Error(err))...)
		return "", err
	}
	i.logger.Debug("completion", append(fields, zap.Int("chars", len(out)))...)
	return out, nil
}
