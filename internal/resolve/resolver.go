// Package resolve answers reads for a mix of provisional and server ids.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/devinv/internal/records"
)

// ErrNoObjectsFound is returned when an online read matched nothing.
var ErrNoObjectsFound = errors.New("no objects found")

const (
	// OfflineMessage accompanies every result served without connectivity.
	OfflineMessage = "Device is offline. Displaying last fetched results."

	// NotFoundMessage is the user-facing form of ErrNoObjectsFound.
	NotFoundMessage = "No objects found."
)

// Checker reports point-in-time connectivity.
type Checker interface {
	Check(ctx context.Context) bool
}

// Fetcher reads records from the server.
type Fetcher interface {
	Fetch(ctx context.Context, ids []string) ([]records.Record, error)
}

// Provisional serves records that are still waiting in the offline queue.
type Provisional interface {
	Tagged(ctx context.Context, ids []string) ([]records.Record, error)
}

// Cache holds the last successful read, provisional records included.
type Cache interface {
	Load(ctx context.Context) ([]records.Record, error)
	Save(ctx context.Context, recs []records.Record) error
}

// Result is what a read returns.
type Result struct {
	Records []records.Record `json:"records"`
	Offline bool             `json:"offline"`

	// Stale is set when Records came from the last-known-good cache.
	Stale   bool   `json:"stale"`
	Message string `json:"message,omitempty"`
}

// Resolver merges provisional and server records.
type Resolver struct {
	conn        Checker
	gateway     Fetcher
	provisional Provisional
	cache       Cache
	logger      *slog.Logger
}

// New creates a Resolver. provisional is normally the queue manager and cache
// the last-known-good store.
func New(conn Checker, gateway Fetcher, provisional Provisional, cache Cache) *Resolver {
	return &Resolver{
		conn:        conn,
		gateway:     gateway,
		provisional: provisional,
		cache:       cache,
		logger:      slog.Default(),
	}
}

// Resolve returns the records for ids. Provisional ids never reach the
// network. Offline, the provisional matches are followed by the
// last-known-good cache. Online, server ids are fetched in one batch and the
// merged result becomes the new last-known-good; a failed fetch falls back
// to the provisional matches or the cache.
func (r *Resolver) Resolve(ctx context.Context, ids []string) (Result, error) {
	provIDs, serverIDs := records.Partition(ids)

	var local []records.Record
	if len(provIDs) > 0 {
		var err error
		local, err = r.provisional.Tagged(ctx, provIDs)
		if err != nil {
			return Result{}, fmt.Errorf("reading queued records: %w", err)
		}
	}

	if !r.conn.Check(ctx) {
		res := Result{Offline: true, Message: OfflineMessage}
		cached := withoutIDs(r.lastKnown(ctx), local)
		res.Records = append(append(res.Records, local...), cached...)
		res.Stale = len(cached) > 0 || len(local) == 0
		return res, nil
	}

	var fetched []records.Record
	if len(serverIDs) > 0 {
		var err error
		fetched, err = r.gateway.Fetch(ctx, serverIDs)
		if err != nil {
			r.logger.Warn("fetching records failed", "ids", len(serverIDs), "error", err)
			return r.fallback(ctx, local, err)
		}
	}

	merged := make([]records.Record, 0, len(local)+len(fetched))
	merged = append(merged, local...)
	merged = append(merged, fetched...)
	if len(merged) == 0 {
		return Result{}, ErrNoObjectsFound
	}
	// Provisional records are cached under their offline ids so a later
	// replay can remap them.
	if err := r.cache.Save(ctx, merged); err != nil {
		r.logger.Warn("saving last fetched records", "error", err)
	}
	return Result{Records: merged}, nil
}

func (r *Resolver) fallback(ctx context.Context, local []records.Record, fetchErr error) (Result, error) {
	if len(local) > 0 {
		return Result{Records: local}, nil
	}
	if cached := r.lastKnown(ctx); len(cached) > 0 {
		return Result{Records: cached, Stale: true}, nil
	}
	return Result{}, fetchErr
}

func (r *Resolver) lastKnown(ctx context.Context) []records.Record {
	cached, err := r.cache.Load(ctx)
	if err != nil {
		r.logger.Warn("loading last fetched records", "error", err)
		return nil
	}
	return cached
}

// withoutIDs drops the records of recs whose id appears in seen. A cached
// copy of a still-queued record is shadowed by the queued one.
func withoutIDs(recs, seen []records.Record) []records.Record {
	if len(seen) == 0 {
		return recs
	}
	skip := make(map[string]bool, len(seen))
	for _, r := range seen {
		skip[r.ID] = true
	}
	var out []records.Record
	for _, r := range recs {
		if !skip[r.ID] {
			out = append(out, r)
		}
	}
	return out
}
