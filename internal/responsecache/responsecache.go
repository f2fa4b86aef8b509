// Package responsecache stores generated answers keyed by the fingerprint of the
// normalized question.
package responsecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/query"
	"github.com/bigdegenenergy/open-cloud-ops/tutor/pkg/models"
)

const (
	// Freshness is how long an entry may answer questions after it was set.
	Freshness = 24 * time.Hour

	// AcceptSimilarity is the minimum similarity between the incoming question
	// and the cached original question for a hit to be served.
	AcceptSimilarity = 0.8

	keyPrefix = "response:"
)

// KV is the key-value collaborator holding cache entries.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Lookup is the result of Get.
type Lookup struct {
	Hit        bool
	Response   string
	Similarity float64
	Age        time.Duration
}

// Acceptable reports whether a hit is close enough to be served.
func (l *Lookup) Acceptable() bool {
	return l != nil && l.Hit && l.Similarity >= AcceptSimilarity
}

// Cache is the response cache.
type Cache struct {
	kv  KV
	now func() time.Time
}

// New creates a Cache over kv. A nil clock defaults to time.Now.
func New(kv KV, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{kv: kv, now: now}
}

// Key returns the storage key for a raw question.
func Key(q string) string {
	return keyPrefix + query.Fingerprint(query.Normalize(q))
}

// Get looks up the entry for q. Entries older than Freshness are reported as
// misses but left in place. Storage errors are returned to the caller.
func (c *Cache) Get(ctx context.Context, q string) (*Lookup, error) {
	key := Key(q)
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("responsecache: get: %w", err)
	}
	if raw == "" {
		return &Lookup{}, nil
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		log.WithError(err).WithField("key", key).Warn("responsecache: discarding unreadable entry")
		return &Lookup{}, nil
	}

	age := c.now().Sub(entry.CreatedAt())
	if age >= Freshness {
		return &Lookup{}, nil
	}

	return &Lookup{
		Hit:        true,
		Response:   entry.Response,
		Similarity: query.Similarity(q, entry.OriginalQuery),
		Age:        age,
	}, nil
}

// Set stores response for q, replacing any existing entry and resetting its
// hit count to 1.
func (c *Cache) Set(ctx context.Context, q, response string) error {
	entry := models.CacheEntry{
		Response:        response,
		OriginalQuery:   q,
		NormalizedQuery: query.Normalize(q),
		Timestamp:       c.now().UnixMilli(),
		HitCount:        1,
	}
	return c.put(ctx, Key(q), &entry)
}

// Increment bumps the hit count of the entry for q when one exists. It is
// analytics only: failures are logged and never returned.
func (c *Cache) Increment(ctx context.Context, q string) {
	key := Key(q)
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("responsecache: increment read failed")
		return
	}
	if raw == "" {
		return
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		log.WithError(err).WithField("key", key).Warn("responsecache: increment skipped unreadable entry")
		return
	}
	if entry.HitCount < 1 {
		entry.HitCount = 1
	}
	entry.HitCount++

	if err := c.put(ctx, key, &entry); err != nil {
		log.WithError(err).WithField("key", key).Warn("responsecache: increment write failed")
	}
}

func (c *Cache) put(ctx context.Context, key string, entry *models.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("responsecache: encode entry: %w", err)
	}
	if err := c.kv.Set(ctx, key, string(data), Freshness); err != nil {
		return fmt.Errorf("responsecache: set: %w", err)
	}
	return nil
}
