package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/coverbridge/platform-security/internal/domain/validation"
)

// ValidationCache memoizes validation results keyed by a content hash of
// (type, input). It is concurrency-safe, and bigcache's hard size cap keeps
// it bounded: once the capacity is reached the oldest shard entries are
// evicted.
type ValidationCache struct {
	store *bigcache.BigCache
}

// NewValidationCache builds a cache capped at maxSizeMB megabytes with the
// given entry lifetime.
func NewValidationCache(maxSizeMB int, lifeWindow time.Duration) (*ValidationCache, error) {
	config := bigcache.DefaultConfig(lifeWindow)
	config.HardMaxCacheSize = maxSizeMB
	config.Verbose = false

	store, err := bigcache.New(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("init validation cache: %w", err)
	}
	return &ValidationCache{store: store}, nil
}

// Get returns the cached result for (inputType, input), if present.
func (c *ValidationCache) Get(inputType validation.InputType, input string) (validation.Result, bool) {
	raw, err := c.store.Get(contentKey(inputType, input))
	if err != nil {
		return validation.Result{}, false
	}
	var result validation.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return validation.Result{}, false
	}
	return result, true
}

// Put stores the result. Failures are swallowed: the cache is an
// optimization, never a source of truth.
func (c *ValidationCache) Put(inputType validation.InputType, input string, result validation.Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = c.store.Set(contentKey(inputType, input), raw)
}

// Len returns the current entry count.
func (c *ValidationCache) Len() int {
	return c.store.Len()
}

// Reset drops all entries.
func (c *ValidationCache) Reset() error {
	err := c.store.Reset()
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return err
	}
	return nil
}

// Close releases the cache's internal goroutines.
func (c *ValidationCache) Close() error {
	return c.store.Close()
}

func contentKey(inputType validation.InputType, input string) string {
	h := fnv.New64a()
	h.Write([]byte(inputType))
	h.Write([]byte{0})
	h.Write([]byte(input))
	return fmt.Sprintf("%016x", h.Sum64())
}
