package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/devinv/internal/records"
	"github.com/kalambet/devinv/internal/storage"
)

// KV is the subset of the substrate the cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// LastKnownGood keeps the most recent successful read, queued records under
// their offline ids included, so reads have something to show when the
// gateway is unavailable. Replays patch it through ApplyRemap.
type LastKnownGood struct {
	kv     KV
	logger *slog.Logger
	mu     sync.Mutex
}

// NewLastKnownGood creates a cache persisted under the lastFetchedObjects key.
func NewLastKnownGood(kv KV) *LastKnownGood {
	return &LastKnownGood{kv: kv, logger: slog.Default()}
}

// Load returns the cached records. Missing or undecodable data loads as empty.
func (c *LastKnownGood) Load(ctx context.Context) ([]records.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

func (c *LastKnownGood) load(ctx context.Context) ([]records.Record, error) {
	raw, ok, err := c.kv.Get(ctx, storage.KeyLastFetched)
	if err != nil {
		return nil, fmt.Errorf("loading last fetched records: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var recs []records.Record
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		c.logger.Warn("discarding undecodable last fetched records", "error", err)
		return nil, nil
	}
	return recs, nil
}

// Save replaces the cached records.
func (c *LastKnownGood) Save(ctx context.Context, recs []records.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save(ctx, recs)
}

func (c *LastKnownGood) save(ctx context.Context, recs []records.Record) error {
	if recs == nil {
		recs = []records.Record{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encoding last fetched records: %w", err)
	}
	if err := c.kv.Set(ctx, storage.KeyLastFetched, string(b)); err != nil {
		return fmt.Errorf("saving last fetched records: %w", err)
	}
	return nil
}

// ApplyRemap rewrites provisional ids in the cache to their server ids.
// It returns the number of records changed and writes only when that is non-zero.
func (c *LastKnownGood) ApplyRemap(ctx context.Context, idMap map[string]string) (int, error) {
	if len(idMap) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recs, err := c.load(ctx)
	if err != nil {
		return 0, err
	}
	patched, n := records.ApplyRemap(recs, idMap)
	if n == 0 {
		return 0, nil
	}
	if err := c.save(ctx, patched); err != nil {
		return 0, err
	}
	c.logger.Debug("remapped cached records", "count", n)
	return n, nil
}
