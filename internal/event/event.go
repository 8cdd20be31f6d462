// Package event defines the analytics impression emitted for each decision
// and the hook through which it leaves the engine. Delivery transport and
// batching live outside this repository; the in-repo processor just logs.
package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/rafaeljc/verdandi/internal/observability"
)

// Impression describes one decision for analytics correlation.
type Impression struct {
	ExperimentID  string    `json:"experiment_id"`
	ExperimentKey string    `json:"experiment_key"`
	VariationID   string    `json:"variation_id"`
	VariationKey  string    `json:"variation_key"`
	UserID        string    `json:"user_id"`
	CmabUUID      string    `json:"cmab_uuid,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Processor receives impressions as decisions are made.
// Implementations must not block the decision path; anything slow belongs
// behind a queue on the implementation's side.
type Processor interface {
	Process(ctx context.Context, impression Impression)
}

// LogProcessor writes impressions to the structured log. It stands in for a
// real delivery pipeline and doubles as a debugging aid.
type LogProcessor struct {
	logger *slog.Logger
}

// NewLogProcessor creates a LogProcessor.
// If logger is nil, it defaults to slog.Default().
func NewLogProcessor(logger *slog.Logger) *LogProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProcessor{logger: logger}
}

// Process implements Processor.
func (p *LogProcessor) Process(_ context.Context, impression Impression) {
	observability.ImpressionsTotal.Inc()
	p.logger.Info("impression recorded",
		slog.String("experiment_key", impression.ExperimentKey),
		slog.String("variation_key", impression.VariationKey),
		slog.String("user_id", impression.UserID),
		slog.String("cmab_uuid", impression.CmabUUID),
	)
}
