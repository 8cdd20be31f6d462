// Package decideapi implements the REST API of the decision service.
// It handles HTTP routing, request decoding, validation, and response formatting.
package decideapi

import (
	"regexp"
	"strings"
)

// sdkKeyRegex ensures SDK keys are URL-safe slugs.
// We compile it once at package initialization for performance.
var sdkKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DecideRequest defines the payload for the POST /v1/decide endpoint.
type DecideRequest struct {
	// SDKKey selects the project datafile to decide against.
	SDKKey string `json:"sdk_key"`

	// UserID identifies the user. Required; bucketing is keyed on it unless
	// the reserved $bucketing_id attribute overrides it.
	UserID string `json:"user_id"`

	// Attributes are the user's targeting attributes. Optional.
	Attributes map[string]any `json:"attributes,omitempty"`

	// QualifiedSegments lists the audience segments the caller has already
	// resolved for this user. Optional.
	QualifiedSegments []string `json:"qualified_segments,omitempty"`

	// ExperimentKeys limits the decision to the named experiments.
	// When empty, every experiment in the datafile is decided.
	ExperimentKeys []string `json:"experiment_keys,omitempty"`

	// Options are decide option names (e.g., "INCLUDE_REASONS").
	Options []string `json:"options,omitempty"`
}

// Sanitize cleans up input data by trimming whitespace.
// This prevents "dirty" data from entering the decision logic.
func (r *DecideRequest) Sanitize() {
	r.SDKKey = strings.TrimSpace(r.SDKKey)
	r.UserID = strings.TrimSpace(r.UserID)
	for i, key := range r.ExperimentKeys {
		r.ExperimentKeys[i] = strings.TrimSpace(key)
	}
}

// Validate checks if the request data adheres to business rules.
// It returns a structured *ErrorResponse if validation fails, or nil if valid.
func (r *DecideRequest) Validate() *ErrorResponse {
	if r.SDKKey == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "sdk_key is required",
		}
	}
	if len(r.SDKKey) > 255 || !sdkKeyRegex.MatchString(r.SDKKey) {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "sdk_key must contain only letters, numbers, hyphens and underscores",
		}
	}
	if r.UserID == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "user_id is required",
		}
	}
	if len(r.UserID) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "user_id must be less than 256 characters",
		}
	}
	return nil
}

// DecideResponse wraps the per-experiment decisions for one user.
type DecideResponse struct {
	UserID    string               `json:"user_id"`
	Decisions []ExperimentDecision `json:"decisions"`
}

// ExperimentDecision is the wire form of a single decision.
// A null variation_key means the experiment produced no decision for this user.
type ExperimentDecision struct {
	ExperimentKey string   `json:"experiment_key"`
	VariationKey  *string  `json:"variation_key"`
	VariationID   string   `json:"variation_id,omitempty"`
	Enabled       bool     `json:"enabled"`
	CmabUUID      string   `json:"cmab_uuid,omitempty"`
	Reasons       []string `json:"reasons,omitempty"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`
}
