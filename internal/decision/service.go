// Package decision is the composition root of the engine. It sequences
// whitelisting, sticky-bucketing profiles, audience targeting and
// bucketing/CMAB resolution into a single variation decision per request.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rafaeljc/verdandi/internal/bucketer"
	"github.com/rafaeljc/verdandi/internal/cmab"
	"github.com/rafaeljc/verdandi/internal/condition"
	"github.com/rafaeljc/verdandi/internal/decide"
	"github.com/rafaeljc/verdandi/internal/entities"
	"github.com/rafaeljc/verdandi/internal/observability"
	"github.com/rafaeljc/verdandi/internal/profile"
)

// Decision sources, in the order the state machine can produce them.
const (
	SourceNone      = "none"
	SourceWhitelist = "whitelist"
	SourceSticky    = "sticky"
	SourceBucketing = "bucketing"
	SourceCmab      = "cmab"
)

// Decision is the outcome of one variation request. A nil Variation means
// "no decision": the experiment does not apply to this user. Reasons carries
// the human-readable trail; callers expose it only when INCLUDE_REASONS is set.
type Decision struct {
	Experiment entities.Experiment
	Variation  *entities.Variation
	CmabUUID   string
	Source     string
	Reasons    []string
}

// forcedKey identifies a runtime forced-variation override.
type forcedKey struct {
	userID       string
	experimentID string
}

// Service produces variation decisions. It is safe for concurrent use:
// the only mutable state is the forced-variation map (mutex-guarded) and
// the CMAB cache (internally synchronized).
type Service struct {
	bucketer   *bucketer.Bucketer
	conditions *condition.TreeEvaluator
	cmab       *cmab.Service // nil disables CMAB experiments
	profiles   profile.Store // nil disables sticky bucketing
	logger     *slog.Logger

	forcedMu sync.RWMutex
	forced   map[forcedKey]string // variation key overrides set at runtime
}

// NewService creates a decision service.
// cmabService and profileStore are optional; if logger is nil, it defaults
// to slog.Default().
func NewService(cmabService *cmab.Service, profileStore profile.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		bucketer:   bucketer.New(logger),
		conditions: condition.NewTreeEvaluator(logger),
		cmab:       cmabService,
		profiles:   profileStore,
		logger:     logger,
		forced:     make(map[forcedKey]string),
	}
}

// SetForcedVariation forces a user into a variation of an experiment,
// bypassing targeting and bucketing, until cleared. An empty variation key
// clears the override.
func (s *Service) SetForcedVariation(userID, experimentID, variationKey string) {
	s.forcedMu.Lock()
	defer s.forcedMu.Unlock()

	key := forcedKey{userID: userID, experimentID: experimentID}
	if variationKey == "" {
		delete(s.forced, key)
		return
	}
	s.forced[key] = variationKey
}

// GetVariation runs the decision state machine for one experiment and user.
// States are evaluated in strict order; the first match wins. The method
// never returns an error: every failure mode degrades to a no-decision
// result with a reason.
func (s *Service) GetVariation(
	ctx context.Context,
	cfg entities.ProjectConfig,
	experiment entities.Experiment,
	user entities.UserContext,
	options decide.Options,
) Decision {
	d := s.getVariation(ctx, cfg, experiment, user, options)
	if d.Source == "" {
		d.Source = SourceNone
	}
	observability.DecisionsTotal.WithLabelValues(d.Source).Inc()
	return d
}

func (s *Service) getVariation(
	ctx context.Context,
	cfg entities.ProjectConfig,
	experiment entities.Experiment,
	user entities.UserContext,
	options decide.Options,
) Decision {
	d := Decision{Experiment: experiment}

	// 1. Not running: nothing to decide.
	if !experiment.IsRunning() {
		s.logger.Debug("experiment is not running",
			slog.String("experiment_key", experiment.Key),
		)
		d.reason("experiment %q is not running", experiment.Key)
		return d
	}

	// 2. Whitelisted / forced variation bypasses everything else.
	if variation, ok := s.forcedVariation(experiment, user.ID); ok {
		d.Variation = &variation
		d.Source = SourceWhitelist
		d.reason("user %q is forced into variation %q", user.ID, variation.Key)
		return d
	}

	// 3. Sticky bucketing: reuse a previously stored assignment while it
	// still resolves to a valid variation in the current config.
	if variation, ok := s.stickyVariation(ctx, cfg, experiment, user, options); ok {
		d.Variation = &variation
		d.Source = SourceSticky
		d.reason("returning previously bucketed variation %q for user %q", variation.Key, user.ID)
		return d
	}

	// 4. Audience targeting. A nil tree means the experiment targets everyone.
	if tree := experiment.AudienceConditionTree; tree != nil {
		result := s.conditions.Evaluate(tree, user)
		if result != condition.True {
			s.logger.Debug("user does not meet audience conditions",
				slog.String("experiment_key", experiment.Key),
				slog.String("user_id", user.ID),
				slog.String("result", result.String()),
			)
			d.reason("audience conditions for experiment %q evaluated to %s for user %q", experiment.Key, result, user.ID)
			return d
		}
		d.reason("audience conditions for experiment %q evaluated to TRUE for user %q", experiment.Key, user.ID)
	}

	// 5. Traffic allocation: fixed bucketing or CMAB delegation.
	if experiment.Cmab != nil {
		return s.cmabVariation(ctx, cfg, experiment, user, options, d)
	}
	return s.bucketedVariation(ctx, cfg, experiment, user, options, d)
}

// forcedVariation resolves runtime overrides first, then the datafile
// whitelist. A whitelisted key that no longer exists in the experiment is
// ignored with a warning.
func (s *Service) forcedVariation(experiment entities.Experiment, userID string) (entities.Variation, bool) {
	s.forcedMu.RLock()
	variationKey, ok := s.forced[forcedKey{userID: userID, experimentID: experiment.ID}]
	s.forcedMu.RUnlock()

	if !ok {
		variationKey, ok = experiment.Whitelist[userID]
	}
	if !ok {
		return entities.Variation{}, false
	}

	variation, exists := experiment.VariationsByKey[variationKey]
	if !exists {
		s.logger.Warn("whitelisted variation is not in experiment",
			slog.String("experiment_key", experiment.Key),
			slog.String("variation_key", variationKey),
		)
		return entities.Variation{}, false
	}
	return variation, true
}

// stickyVariation consults the user-profile store. Store failures and stale
// variation ids fall through to re-bucketing; they never fail the decision.
func (s *Service) stickyVariation(
	ctx context.Context,
	cfg entities.ProjectConfig,
	experiment entities.Experiment,
	user entities.UserContext,
	options decide.Options,
) (entities.Variation, bool) {
	if s.profiles == nil || options.Has(decide.IgnoreUserProfileService) {
		return entities.Variation{}, false
	}

	stored, found, err := s.profiles.Lookup(ctx, user.ID)
	if err != nil {
		s.logger.Warn("user profile lookup failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return entities.Variation{}, false
	}
	if !found {
		return entities.Variation{}, false
	}

	variationID, ok := stored.Variation(experiment.ID)
	if !ok {
		return entities.Variation{}, false
	}

	variation, err := cfg.GetVariationFromID(experiment.ID, variationID)
	if err != nil {
		// The stored variation no longer exists in this config revision.
		s.logger.Debug("stored variation no longer valid, re-bucketing",
			slog.String("user_id", user.ID),
			slog.String("experiment_key", experiment.Key),
			slog.String("variation_id", variationID),
		)
		return entities.Variation{}, false
	}
	return variation, true
}

// bucketedVariation resolves an ordinary experiment through the bucketer.
func (s *Service) bucketedVariation(
	ctx context.Context,
	cfg entities.ProjectConfig,
	experiment entities.Experiment,
	user entities.UserContext,
	options decide.Options,
	d Decision,
) Decision {
	entityID, ok := s.bucketer.BucketToEntityID(cfg, experiment, user.BucketingID(), user.ID, experiment.TrafficAllocation)
	if !ok {
		d.reason("user %q is in no traffic allocation range of experiment %q", user.ID, experiment.Key)
		return d
	}

	variation, err := cfg.GetVariationFromID(experiment.ID, entityID)
	if err != nil {
		s.logger.Warn("user bucketed into invalid variation",
			slog.String("experiment_key", experiment.Key),
			slog.String("variation_id", entityID),
		)
		d.reason("user %q bucketed into invalid variation %q", user.ID, entityID)
		return d
	}

	d.Variation = &variation
	d.Source = SourceBucketing
	d.reason("user %q bucketed into variation %q of experiment %q", user.ID, variation.Key, experiment.Key)
	s.saveProfile(ctx, experiment, variation, user, options)
	return d
}

// cmabVariation resolves a bandit experiment: the bucketer gates overall
// inclusion via the CMAB traffic sentinel (zero allocation never reaches the
// network), then the CMAB service supplies the actual variation.
func (s *Service) cmabVariation(
	ctx context.Context,
	cfg entities.ProjectConfig,
	experiment entities.Experiment,
	user entities.UserContext,
	options decide.Options,
	d Decision,
) Decision {
	if _, ok := s.bucketer.BucketToEntityID(cfg, experiment, user.BucketingID(), user.ID, experiment.Cmab.TrafficAllocation); !ok {
		d.reason("user %q is not in the CMAB traffic allocation of experiment %q", user.ID, experiment.Key)
		return d
	}

	if s.cmab == nil {
		s.logger.Error("cmab experiment reached but no cmab service configured",
			slog.String("experiment_key", experiment.Key),
		)
		d.reason("CMAB is not configured; no decision for experiment %q", experiment.Key)
		return d
	}

	cmabDecision, err := s.cmab.GetDecision(ctx, cfg, user, experiment.ID, options)
	if err != nil {
		// Degrade, never propagate: one failed prediction must not crash the
		// host call or affect unrelated decisions.
		s.logger.Error("failed to fetch CMAB decision",
			slog.String("experiment_key", experiment.Key),
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		d.reason("failed to fetch CMAB data for experiment %q: %v", experiment.Key, err)
		return d
	}

	variation, err := cfg.GetVariationFromID(experiment.ID, cmabDecision.VariationID)
	if err != nil {
		s.logger.Warn("user bucketed into invalid variation",
			slog.String("experiment_key", experiment.Key),
			slog.String("variation_id", cmabDecision.VariationID),
		)
		d.reason("user %q bucketed into invalid variation %q", user.ID, cmabDecision.VariationID)
		return d
	}

	d.Variation = &variation
	d.CmabUUID = cmabDecision.CmabUUID
	d.Source = SourceCmab
	d.reason("user %q received CMAB variation %q of experiment %q", user.ID, variation.Key, experiment.Key)
	s.saveProfile(ctx, experiment, variation, user, options)
	return d
}

// saveProfile records the fresh assignment for sticky bucketing.
// An unconfigured store is informational, not an error.
func (s *Service) saveProfile(
	ctx context.Context,
	experiment entities.Experiment,
	variation entities.Variation,
	user entities.UserContext,
	options decide.Options,
) {
	if options.Has(decide.IgnoreUserProfileService) {
		return
	}
	if s.profiles == nil {
		s.logger.Info("user profile store not configured, skipping sticky bucketing save",
			slog.String("user_id", user.ID),
			slog.String("experiment_key", experiment.Key),
		)
		return
	}

	stored, _, err := s.profiles.Lookup(ctx, user.ID)
	if err != nil {
		s.logger.Warn("user profile lookup before save failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		stored = profile.Profile{}
	}
	stored.UserID = user.ID

	if err := s.profiles.Save(ctx, stored.WithVariation(experiment.ID, variation.ID)); err != nil {
		s.logger.Warn("user profile save failed",
			slog.String("user_id", user.ID),
			slog.String("experiment_key", experiment.Key),
			slog.Any("error", err),
		)
	}
}

// reason appends a formatted entry to the decision trail.
func (d *Decision) reason(format string, args ...any) {
	d.Reasons = append(d.Reasons, fmt.Sprintf(format, args...))
}
