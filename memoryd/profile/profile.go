// Package profile distills a user's memories into the compact attribute
// block the gateway injects as low-priority prompt context.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nadia-ai/nadia/memoryd/domain"
	"github.com/nadia-ai/nadia/memoryd/store"
	"github.com/nadia-ai/nadia/memoryd/textproc"
)

const (
	cacheSize   = 2048
	cacheTTL    = 5 * time.Minute
	scanWindow  = 200
	maxPerList  = 8
	maxEntities = 10
)

// Attributes is the document stored as profile_json. Lists are ordered
// newest first and capped so the block stays prompt-sized.
type Attributes struct {
	Preferences []string          `json:"preferences,omitempty"`
	Facts       []string          `json:"facts,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	TopEntities []string          `json:"topEntities,omitempty"`
	MemoryCount int               `json:"memoryCount"`
	Tiers       map[string]int    `json:"tiers,omitempty"`
}

// Builder composes, persists, and caches user profiles. Audits rebuild a
// profile after every save batch; reads go through the expiring cache.
type Builder struct {
	store *store.Store
	cache *expirable.LRU[string, *domain.UserProfile]
	log   *slog.Logger
}

func NewBuilder(st *store.Store, log *slog.Logger) *Builder {
	return &Builder{
		store: st,
		cache: expirable.NewLRU[string, *domain.UserProfile](cacheSize, nil, cacheTTL),
		log:   log,
	}
}

// Get serves the read path: cache, then table, then a fresh build for users
// the audit pipeline has not profiled yet.
func (b *Builder) Get(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if p, ok := b.cache.Get(userID); ok {
		return p, nil
	}
	p, err := b.store.GetProfile(ctx, userID)
	if err == nil {
		b.cache.Add(userID, p)
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return b.Rebuild(ctx, userID)
}

// Rebuild recomputes the profile from the user's recent memories and
// persists it, replacing any cached copy.
func (b *Builder) Rebuild(ctx context.Context, userID string) (*domain.UserProfile, error) {
	mems, err := b.store.RecentMemories(ctx, userID, "", scanWindow)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(compose(mems))
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}

	p := &domain.UserProfile{UserID: userID, Profile: raw, LastUpdated: time.Now().UTC()}
	if err := b.store.UpsertProfile(ctx, p); err != nil {
		return nil, err
	}
	b.cache.Add(userID, p)
	b.log.Debug("rebuilt profile", "user_id", userID, "memories", len(mems))
	return p, nil
}

// Invalidate drops the cached profile after a direct memory mutation.
func (b *Builder) Invalidate(userID string) {
	b.cache.Remove(userID)
}

// compose buckets memories into the attribute block. Input arrives newest
// first, so the first sighting of an attribute key wins.
func compose(mems []*domain.Memory) *Attributes {
	attrs := &Attributes{
		Attributes:  map[string]string{},
		Tiers:       map[string]int{},
		MemoryCount: len(mems),
	}

	entityCount := map[string]int{}
	for _, m := range mems {
		attrs.Tiers[m.Tier]++
		for _, e := range m.Entities {
			entityCount[e]++
		}

		if key := textproc.AttributeKey(m.Content); key != "" {
			if _, seen := attrs.Attributes[key]; !seen {
				attrs.Attributes[key] = m.Content
			}
			continue
		}
		switch m.Tier {
		case domain.TierPrefsGoals:
			if len(attrs.Preferences) < maxPerList {
				attrs.Preferences = append(attrs.Preferences, m.Content)
			}
		case domain.TierCrossRecent:
			if len(attrs.Facts) < maxPerList {
				attrs.Facts = append(attrs.Facts, m.Content)
			}
		}
	}

	names := make([]string, 0, len(entityCount))
	for e := range entityCount {
		names = append(names, e)
	}
	sort.Slice(names, func(i, j int) bool {
		if entityCount[names[i]] != entityCount[names[j]] {
			return entityCount[names[i]] > entityCount[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > maxEntities {
		names = names[:maxEntities]
	}
	attrs.TopEntities = names
	return attrs
}
