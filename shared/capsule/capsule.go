// Package capsule defines the research fact-pack exchanged between the
// memory service's research pipeline and the gateway's capsule injector,
// plus the Redis cache it travels through.
package capsule

import (
	"time"
)

// TTL classes bucket how fast researched facts go stale.
const (
	TTLBreaking = "breaking"
	TTLVolatile = "volatile"
	TTLStable   = "stable"
)

// Claim is one researched statement with its upstream confidence.
type Claim struct {
	Text       string  `json:"text" msgpack:"text"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
	Date       string  `json:"date,omitempty" msgpack:"date,omitempty"`
}

// Source is where a claim came from.
type Source struct {
	Host          string `json:"host" msgpack:"host"`
	URL           string `json:"url" msgpack:"url"`
	Date          string `json:"date,omitempty" msgpack:"date,omitempty"`
	AuthorityTier int    `json:"authorityTier" msgpack:"authority_tier"`
}

// Capsule is a transient fact-pack published under
// factPack:{threadId}:{batchId}. It is consumed at most once per turn and
// otherwise survives until its TTL expires.
type Capsule struct {
	BatchID     string    `json:"batchId" msgpack:"batch_id"`
	ThreadID    string    `json:"threadId" msgpack:"thread_id"`
	Query       string    `json:"query,omitempty" msgpack:"query,omitempty"`
	Claims      []Claim   `json:"claims" msgpack:"claims"`
	Sources     []Source  `json:"sources" msgpack:"sources"`
	Entities    []string  `json:"entities,omitempty" msgpack:"entities,omitempty"`
	Summary     string    `json:"summary,omitempty" msgpack:"summary,omitempty"`
	TTLClass    string    `json:"ttlClass" msgpack:"ttl_class"`
	FetchedAt   time.Time `json:"fetchedAt" msgpack:"fetched_at"`
	ExpiresAt   time.Time `json:"expiresAt" msgpack:"expires_at"`
	PublishedAt time.Time `json:"publishedAt" msgpack:"published_at"`
}

// TTL maps the capsule's class to a cache lifetime.
func (c *Capsule) TTL() time.Duration {
	switch c.TTLClass {
	case TTLBreaking:
		return 5 * time.Minute
	case TTLStable:
		return 6 * time.Hour
	default:
		return 30 * time.Minute
	}
}
