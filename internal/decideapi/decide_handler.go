package decideapi

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/verdandi/internal/decide"
	"github.com/rafaeljc/verdandi/internal/entities"
	"github.com/rafaeljc/verdandi/internal/event"
	"github.com/rafaeljc/verdandi/internal/logger"
	"github.com/rafaeljc/verdandi/internal/store"
)

// handleDecide processes the POST /v1/decide request.
//
// Responsibilities:
// 1. Decodes the JSON payload into the DecideRequest DTO.
// 2. Sanitizes and Validates the input using the DTO's business logic.
// 3. Parses the decide options.
// 4. Resolves the project snapshot for the SDK key.
// 5. Runs the decision state machine per requested experiment.
// 6. Emits impression events and returns the decisions.
func (a *API) handleDecide(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	// 1. Decode Request
	if a.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
	}

	var req DecideRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	// 2. Sanitize & Validate
	// We delegate this logic to the DTO to keep the handler clean and testable.
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	// 3. Parse Options
	options, err := decide.Parse(req.Options)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_OPTION",
			Message: err.Error(),
		})
		return
	}

	// 4. Resolve Project Snapshot
	cfg, err := a.configs.GetConfig(r.Context(), req.SDKKey)
	if err != nil {
		if errors.Is(err, store.ErrDatafileNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNKNOWN_SDK_KEY",
				Message: "No datafile found for the given sdk_key",
			})
			return
		}

		log.Error("failed to load project snapshot", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to load project configuration",
		})
		return
	}

	user := entities.UserContext{
		ID:                req.UserID,
		Attributes:        req.Attributes,
		QualifiedSegments: req.QualifiedSegments,
	}

	// 5. Decide
	experiments := a.resolveExperiments(cfg, req.ExperimentKeys)
	results := make([]ExperimentDecision, 0, len(experiments))

	for _, target := range experiments {
		results = append(results, a.decideOne(r, cfg, target, user, options))
	}

	// 6. Return Success
	render.Status(r, http.StatusOK)
	render.JSON(w, r, DecideResponse{
		UserID:    req.UserID,
		Decisions: results,
	})
}

// experimentTarget pairs a requested key with its resolution result, so
// unknown keys still produce a (negative) decision entry instead of failing
// the whole request.
type experimentTarget struct {
	key        string
	experiment entities.Experiment
	found      bool
}

// resolveExperiments maps the requested keys to experiments. An empty request
// decides every experiment in the snapshot, in deterministic key order.
func (a *API) resolveExperiments(cfg entities.ProjectConfig, keys []string) []experimentTarget {
	if len(keys) == 0 {
		all := cfg.ExperimentIDMap()
		targets := make([]experimentTarget, 0, len(all))
		for _, experiment := range all {
			targets = append(targets, experimentTarget{key: experiment.Key, experiment: experiment, found: true})
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i].key < targets[j].key })
		return targets
	}

	targets := make([]experimentTarget, 0, len(keys))
	for _, key := range keys {
		experiment, err := cfg.GetExperimentFromKey(key)
		targets = append(targets, experimentTarget{key: key, experiment: experiment, found: err == nil})
	}
	return targets
}

// decideOne runs the state machine for a single experiment and maps the
// outcome to the wire DTO, emitting an impression when a variation was
// delivered.
func (a *API) decideOne(
	r *http.Request,
	cfg entities.ProjectConfig,
	target experimentTarget,
	user entities.UserContext,
	options decide.Options,
) ExperimentDecision {
	out := ExperimentDecision{ExperimentKey: target.key}

	if !target.found {
		if options.Has(decide.IncludeReasons) {
			out.Reasons = []string{"experiment " + target.key + " not found"}
		}
		return out
	}

	d := a.decisions.GetVariation(r.Context(), cfg, target.experiment, user, options)

	if options.Has(decide.IncludeReasons) {
		out.Reasons = d.Reasons
	}
	if d.Variation == nil {
		return out
	}

	out.VariationKey = &d.Variation.Key
	out.VariationID = d.Variation.ID
	out.Enabled = d.Variation.FeatureEnabled
	out.CmabUUID = d.CmabUUID

	if !options.Has(decide.DisableDecisionEvent) {
		a.events.Process(r.Context(), event.Impression{
			ExperimentID:  target.experiment.ID,
			ExperimentKey: target.experiment.Key,
			VariationID:   d.Variation.ID,
			VariationKey:  d.Variation.Key,
			UserID:        user.ID,
			CmabUUID:      d.CmabUUID,
			Timestamp:     time.Now().UTC(),
		})
	}

	return out
}

// handleInvalidateConfig processes POST /v1/config/{sdkKey}/invalidate.
// It drops the cached snapshot so the next decide reloads from storage.
func (a *API) handleInvalidateConfig(w http.ResponseWriter, r *http.Request) {
	sdkKey := chi.URLParam(r, "sdkKey")
	if sdkKey == "" || !sdkKeyRegex.MatchString(sdkKey) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "sdkKey must contain only letters, numbers, hyphens and underscores",
		})
		return
	}

	a.configs.Invalidate(sdkKey)

	logger.FromContext(r.Context()).Info("config snapshot invalidated",
		slog.String("sdk_key", sdkKey),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "invalidated"})
}
