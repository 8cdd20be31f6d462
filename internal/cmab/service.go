package cmab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"github.com/rafaeljc/verdandi/internal/decide"
	"github.com/rafaeljc/verdandi/internal/entities"
	"github.com/rafaeljc/verdandi/internal/observability"
)

// Decision is the outcome of one CMAB resolution. CmabUUID is minted once per
// fetched decision (never per cache hit) and correlates analytics events with
// the prediction that produced them.
type Decision struct {
	VariationID string
	CmabUUID    string
}

// CacheEntry is the cached remainder of a fetched decision. It stays valid
// for reuse only while the hash of the currently-filtered attributes matches
// AttributesHash; any drift forces a re-fetch and entry replacement.
type CacheEntry struct {
	AttributesHash uint32
	VariationID    string
	CmabUUID       string
}

// Service orchestrates cache lookup, filtering and invalidation around the
// prediction client to produce a final (variation, uuid) decision.
type Service struct {
	cache  *LRU[string, CacheEntry]
	client Client
	logger *slog.Logger
}

// DefaultCacheSize and DefaultCacheTimeout bound the decision cache when the
// caller does not configure it explicitly.
const (
	DefaultCacheSize    = 1000
	DefaultCacheTimeout = 30 * time.Minute
)

// NewService creates a CMAB service around the given client.
// A nil cache gets the default bounds. If logger is nil, it defaults to
// slog.Default().
func NewService(cache *LRU[string, CacheEntry], client Client, logger *slog.Logger) *Service {
	if client == nil {
		panic("cmab: client cannot be nil")
	}
	if cache == nil {
		cache = NewLRU[string, CacheEntry](DefaultCacheSize, DefaultCacheTimeout)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		cache:  cache,
		client: client,
		logger: logger,
	}
}

// GetDecision resolves the CMAB variation for one (user, rule) pair.
//
// The cache short-circuits the network call only when the stored attribute
// hash still matches the attributes currently relevant to the rule; stale
// entries are replaced in place, leaving the rest of the cache untouched.
func (s *Service) GetDecision(
	ctx context.Context,
	cfg entities.ProjectConfig,
	user entities.UserContext,
	ruleID string,
	options decide.Options,
) (Decision, error) {
	// 1. Filter the user's attributes down to the rule's configured set.
	filtered := s.filterAttributes(cfg, user, ruleID)

	// 2. Hash the filtered set independent of key order.
	attributesHash := hashAttributes(filtered)

	// NOTE: plain concatenation can collide if user ids contain "-";
	// kept for cache-key compatibility with the wider SDK family.
	cacheKey := fmt.Sprintf("%s-%s", user.ID, ruleID)

	// 3. Option IGNORE_CMAB_CACHE bypasses the cache in both directions.
	if options.Has(decide.IgnoreCmabCache) {
		return s.fetchDecision(ctx, ruleID, user.ID, filtered)
	}

	// 4. Cache maintenance options run before the lookup.
	if options.Has(decide.ResetCmabCache) {
		s.cache.Reset()
	}
	if options.Has(decide.InvalidateUserCmabCache) {
		s.cache.Remove(cacheKey)
	}

	// 5. Reuse the cached decision while the attribute hash still matches.
	if entry, ok := s.cache.Lookup(cacheKey); ok {
		if entry.AttributesHash == attributesHash {
			observability.CmabCacheHits.Inc()
			s.logger.Debug("cmab decision served from cache",
				slog.String("rule_id", ruleID),
				slog.String("user_id", user.ID),
			)
			return Decision{VariationID: entry.VariationID, CmabUUID: entry.CmabUUID}, nil
		}
		s.logger.Debug("cmab cache entry stale, attributes changed",
			slog.String("rule_id", ruleID),
			slog.String("user_id", user.ID),
		)
	}
	observability.CmabCacheMisses.Inc()

	// 6. Fetch fresh and replace the entry.
	decision, err := s.fetchDecision(ctx, ruleID, user.ID, filtered)
	if err != nil {
		return Decision{}, err
	}

	s.cache.Save(cacheKey, CacheEntry{
		AttributesHash: attributesHash,
		VariationID:    decision.VariationID,
		CmabUUID:       decision.CmabUUID,
	})

	return decision, nil
}

// fetchDecision mints a fresh uuid and asks the prediction service.
func (s *Service) fetchDecision(ctx context.Context, ruleID, userID string, attributes map[string]any) (Decision, error) {
	cmabUUID := uuid.New().String()

	start := time.Now()
	variationID, err := s.client.FetchDecision(ctx, ruleID, userID, attributes, cmabUUID)
	observability.CmabFetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		var invalid *InvalidResponseError
		if errors.As(err, &invalid) {
			observability.CmabFetchTotal.WithLabelValues("invalid_response").Inc()
		} else {
			observability.CmabFetchTotal.WithLabelValues("fetch_error").Inc()
		}
		return Decision{}, err
	}

	observability.CmabFetchTotal.WithLabelValues("success").Inc()
	return Decision{VariationID: variationID, CmabUUID: cmabUUID}, nil
}

// filterAttributes maps the rule's configured attribute ids to attribute keys
// and keeps only those the user actually supplied. Unknown rule ids, missing
// CMAB config, unknown attribute ids and absent attributes all degrade to
// "nothing to filter", never an error.
func (s *Service) filterAttributes(cfg entities.ProjectConfig, user entities.UserContext, ruleID string) map[string]any {
	filtered := make(map[string]any)

	experiment, err := cfg.GetExperimentFromID(ruleID)
	if err != nil || experiment.Cmab == nil {
		return filtered
	}

	attributeTable := cfg.AttributeIDMap()
	for _, attributeID := range experiment.Cmab.AttributeIDs {
		attribute, ok := attributeTable[attributeID]
		if !ok {
			continue
		}
		if value, ok := user.Attributes[attribute.Key]; ok {
			filtered[attribute.Key] = value
		}
	}

	return filtered
}

// hashAttributes computes a stable hash of the attribute set: keys are sorted
// and values serialized as JSON before hashing, so map iteration order never
// leaks into the result.
func hashAttributes(attributes map[string]any) uint32 {
	keys := make([]string, 0, len(attributes))
	for k := range attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hasher := murmur3.New32()
	for _, k := range keys {
		value, err := json.Marshal(attributes[k])
		if err != nil {
			// Attribute values come from JSON in the first place; anything
			// unserializable hashes by its formatted representation.
			value = []byte(fmt.Sprintf("%v", attributes[k]))
		}
		_, _ = hasher.Write([]byte(k))
		_, _ = hasher.Write([]byte{'='})
		_, _ = hasher.Write(value)
		_, _ = hasher.Write([]byte{'|'})
	}
	return hasher.Sum32()
}
