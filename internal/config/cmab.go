package config

import (
	"fmt"
	"strings"
	"time"
)

// CmabConfig configures the contextual multi-armed bandit integration:
// the remote prediction endpoint, its retry policy, and the decision cache.
type CmabConfig struct {
	// PredictionURLTemplate is the endpoint for remote decisions.
	// The literal "{ruleId}" placeholder is substituted with the experiment id.
	PredictionURLTemplate string `envconfig:"PREDICTION_URL_TEMPLATE" default:"https://prediction.cmab.verdandi.dev/predict/{ruleId}"`

	// RequestTimeout is the per-attempt HTTP timeout for prediction calls.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`

	// Retry policy for transport-level failures. Response-validation failures
	// are never retried regardless of these settings.
	MaxRetries        int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	InitialBackoff    time.Duration `envconfig:"INITIAL_BACKOFF" default:"100ms"`
	MaxBackoff        time.Duration `envconfig:"MAX_BACKOFF" default:"10s"`
	BackoffMultiplier float64       `envconfig:"BACKOFF_MULTIPLIER" default:"2.0" validate:"min=1"`

	// Decision cache bounds.
	CacheSize    int           `envconfig:"CACHE_SIZE" default:"1000" validate:"min=1"`
	CacheTimeout time.Duration `envconfig:"CACHE_TIMEOUT" default:"30m"`
}

// Validate checks if the CMAB configuration is valid.
func (c *CmabConfig) Validate() error {
	if c.PredictionURLTemplate == "" {
		return fmt.Errorf("cmab prediction URL template cannot be empty")
	}

	if !strings.Contains(c.PredictionURLTemplate, "{ruleId}") {
		return fmt.Errorf("cmab prediction URL template must contain the {ruleId} placeholder")
	}

	// Validate the template once the placeholder is substituted with a dummy id.
	probe := strings.ReplaceAll(c.PredictionURLTemplate, "{ruleId}", "probe")
	if _, err := parseAndValidateURL(probe, []string{"http", "https"}); err != nil {
		return fmt.Errorf("invalid cmab prediction URL template: %w", err)
	}

	if c.InitialBackoff <= 0 {
		return fmt.Errorf("cmab initial backoff must be positive, got %s", c.InitialBackoff)
	}

	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("cmab max backoff (%s) cannot be smaller than initial backoff (%s)", c.MaxBackoff, c.InitialBackoff)
	}

	if c.CacheTimeout <= 0 {
		return fmt.Errorf("cmab cache timeout must be positive, got %s", c.CacheTimeout)
	}

	return nil
}
