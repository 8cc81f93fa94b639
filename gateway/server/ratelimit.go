package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/nadia-ai/nadia/gateway/config"
	"github.com/nadia-ai/nadia/gateway/server/handlers"
	"github.com/nadia-ai/nadia/pkg/metrics"
)

const bucketIdleTTL = time.Hour

// Limiter admits chat requests per user: a token bucket for request rate and
// a counting slot set for concurrent streams. Buckets for idle users age out
// of the LRU; stream counts are exact and drop to zero with the last release.
type Limiter struct {
	buckets *expirable.LRU[string, *rate.Limiter]
	rps     rate.Limit
	burst   int

	mu         sync.Mutex
	streams    map[string]int
	maxStreams int
}

func NewLimiter(cfg config.LimitsConfig) *Limiter {
	return &Limiter{
		buckets:    expirable.NewLRU[string, *rate.Limiter](8192, nil, bucketIdleTTL),
		rps:        rate.Limit(cfg.RateRPS),
		burst:      cfg.RateBurst,
		streams:    map[string]int{},
		maxStreams: cfg.StreamsPerUser,
	}
}

// Allow consumes one token from the user's bucket.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	b, ok := l.buckets.Get(userID)
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets.Add(userID, b)
	}
	l.mu.Unlock()
	return b.Allow()
}

// AcquireStream claims one of the user's concurrent-stream slots. The
// returned release must be called exactly once when the stream ends.
func (l *Limiter) AcquireStream(userID string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.streams[userID] >= l.maxStreams {
		return nil, false
	}
	l.streams[userID]++
	metrics.StreamsActive.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.streams[userID] <= 1 {
				delete(l.streams, userID)
			} else {
				l.streams[userID]--
			}
			metrics.StreamsActive.Dec()
		})
	}, true
}

// Middleware enforces admission on the streaming route: token bucket first,
// then the concurrency slot, held for the duration of the response.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := handlers.UserIDFromContext(r.Context())

		if !l.Allow(userID) {
			metrics.RateLimitedTotal.Inc()
			http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
			return
		}

		release, ok := l.AcquireStream(userID)
		if !ok {
			metrics.RateLimitedTotal.Inc()
			http.Error(w, `{"error":"too many concurrent streams"}`, http.StatusTooManyRequests)
			return
		}
		defer release()

		next.ServeHTTP(w, r)
	})
}
