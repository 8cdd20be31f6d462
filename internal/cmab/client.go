package cmab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Client fetches a remote bandit decision for one (rule, user) pair.
// Implementations must be safe for concurrent use.
type Client interface {
	// FetchDecision posts the filtered attributes to the prediction service
	// and returns the chosen variation id. The context bounds the whole call
	// including retries; per-attempt timeout is the primary control.
	FetchDecision(ctx context.Context, ruleID, userID string, attributes map[string]any, cmabUUID string) (string, error)
}

// RetryConfig controls the exponential backoff applied to transport-level
// failures. Nil retry config means fail on the first error.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the growing delay.
	MaxBackoff time.Duration

	// BackoffMultiplier scales the delay each attempt:
	// delay = min(MaxBackoff, InitialBackoff * BackoffMultiplier^attempt).
	BackoffMultiplier float64
}

// backoffFor computes the delay preceding retry number attempt (0-based).
func (r *RetryConfig) backoffFor(attempt int) time.Duration {
	delay := float64(r.InitialBackoff)
	for i := 0; i < attempt; i++ {
		delay *= r.BackoffMultiplier
	}
	if capped := float64(r.MaxBackoff); delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}

// HTTPClient is the production Client implementation over net/http.
type HTTPClient struct {
	httpClient  *http.Client
	urlTemplate string
	retry       *RetryConfig
	logger      *slog.Logger
}

// ruleIDPlaceholder is substituted into the URL template per request.
const ruleIDPlaceholder = "{ruleId}"

// NewHTTPClient creates a prediction client.
// urlTemplate must contain the "{ruleId}" placeholder; requestTimeout bounds
// each individual attempt; retry may be nil to disable retries.
// If logger is nil, it defaults to slog.Default().
func NewHTTPClient(urlTemplate string, requestTimeout time.Duration, retry *RetryConfig, logger *slog.Logger) *HTTPClient {
	if urlTemplate == "" {
		panic("cmab: url template cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		httpClient:  &http.Client{Timeout: requestTimeout},
		urlTemplate: urlTemplate,
		retry:       retry,
		logger:      logger,
	}
}

// predictionRequest is the wire format posted to the prediction endpoint.
// Attributes are sent as an ordered array so request bodies are stable
// across calls with identical inputs.
type predictionRequest struct {
	UserID     string                `json:"user_id"`
	Attributes []predictionAttribute `json:"attributes"`
	CmabUUID   string                `json:"cmab_uuid"`
}

type predictionAttribute struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// predictionResponse is the expected response shape.
type predictionResponse struct {
	Predictions []struct {
		VariationID string `json:"variation_id"`
	} `json:"predictions"`
}

// FetchDecision implements Client.
//
// Transport failures and non-2xx statuses consume the retry budget; a 2xx
// response with an unusable body fails immediately with InvalidResponseError
// regardless of retry config, because re-asking will not fix a malformed answer.
func (c *HTTPClient) FetchDecision(ctx context.Context, ruleID, userID string, attributes map[string]any, cmabUUID string) (string, error) {
	attempts := 1
	if c.retry != nil {
		attempts += c.retry.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.backoffFor(attempt - 1)
			c.logger.Warn("cmab prediction attempt failed, retrying",
				slog.String("rule_id", ruleID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
				slog.Any("error", lastErr),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", &FetchError{RuleID: ruleID, Err: ctx.Err()}
			case <-timer.C:
			}
		}

		variationID, err := c.doFetch(ctx, ruleID, userID, attributes, cmabUUID)
		if err == nil {
			return variationID, nil
		}

		// Invalid responses are final. Everything else is worth another try.
		var invalid *InvalidResponseError
		if errors.As(err, &invalid) {
			return "", err
		}
		lastErr = err
	}

	return "", &FetchError{RuleID: ruleID, Err: lastErr}
}

// doFetch performs a single request/response cycle.
func (c *HTTPClient) doFetch(ctx context.Context, ruleID, userID string, attributes map[string]any, cmabUUID string) (string, error) {
	payload, err := json.Marshal(predictionRequest{
		UserID:     userID,
		Attributes: orderedAttributes(attributes),
		CmabUUID:   cmabUUID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode prediction request: %w", err)
	}

	url := strings.ReplaceAll(c.urlTemplate, ruleIDPlaceholder, ruleID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("prediction endpoint returned status %d", resp.StatusCode)
	}

	var parsed predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &InvalidResponseError{RuleID: ruleID, Reason: "unparsable body"}
	}
	if len(parsed.Predictions) == 0 || parsed.Predictions[0].VariationID == "" {
		return "", &InvalidResponseError{RuleID: ruleID, Reason: "missing predictions[0].variation_id"}
	}

	return parsed.Predictions[0].VariationID, nil
}

// orderedAttributes flattens the attribute map sorted by key.
func orderedAttributes(attributes map[string]any) []predictionAttribute {
	keys := make([]string, 0, len(attributes))
	for k := range attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]predictionAttribute, 0, len(keys))
	for _, k := range keys {
		out = append(out, predictionAttribute{ID: k, Value: attributes[k]})
	}
	return out
}
