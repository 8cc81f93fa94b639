package audit

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const crossThreadCacheSize = 4096

// crossThreadCache remembers which thread a piece of normalized content was
// last seen in, per user. A hit from a different thread promotes the
// candidate to T1.
type crossThreadCache struct {
	cache *lru.Cache[string, string]
}

func newCrossThreadCache() *crossThreadCache {
	cache, _ := lru.New[string, string](crossThreadCacheSize)
	return &crossThreadCache{cache: cache}
}

func (c *crossThreadCache) key(userID, fingerprint string) string {
	return userID + "|" + fingerprint
}

// hit reports whether the content was previously seen in another thread.
func (c *crossThreadCache) hit(userID, fingerprint, threadID string) bool {
	seen, ok := c.cache.Get(c.key(userID, fingerprint))
	return ok && seen != threadID
}

func (c *crossThreadCache) record(userID, fingerprint, threadID string) {
	c.cache.Add(c.key(userID, fingerprint), threadID)
}
