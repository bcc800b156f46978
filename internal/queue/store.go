package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kalambet/devinv/internal/records"
	"github.com/kalambet/devinv/internal/storage"
)

// Substrate is the string-keyed blob store the queue persists into.
// Implemented by storage.Store.
type Substrate interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Apply(ctx context.Context, muts []storage.Mutation) error
}

// DurableStore loads and saves the pending payloads and their tagged records
// as two JSON lists. The lists are always written together.
type DurableStore struct {
	sub    Substrate
	logger *slog.Logger
}

// NewDurableStore creates a DurableStore over sub.
func NewDurableStore(sub Substrate) *DurableStore {
	return &DurableStore{sub: sub, logger: slog.Default()}
}

// Load returns both lists. Missing or undecodable values load as empty lists.
// If the lists disagree in length both are cut to the shorter one.
func (d *DurableStore) Load(ctx context.Context) ([]records.Payload, []records.Record, error) {
	var payloads []records.Payload
	if err := d.loadList(ctx, storage.KeyPendingPayloads, &payloads); err != nil {
		return nil, nil, err
	}
	var tagged []records.Record
	if err := d.loadList(ctx, storage.KeyTaggedRecords, &tagged); err != nil {
		return nil, nil, err
	}

	if len(payloads) != len(tagged) {
		n := min(len(payloads), len(tagged))
		d.logger.Warn("persisted queue lists misaligned, truncating",
			"payloads", len(payloads), "tagged", len(tagged), "kept", n)
		payloads, tagged = payloads[:n], tagged[:n]
	}
	return payloads, tagged, nil
}

func (d *DurableStore) loadList(ctx context.Context, key string, v any) error {
	raw, ok, err := d.sub.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("loading %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		d.logger.Warn("discarding undecodable queue data", "key", key, "error", err)
	}
	return nil
}

// Save writes both lists in one atomic step.
func (d *DurableStore) Save(ctx context.Context, payloads []records.Payload, tagged []records.Record) error {
	pj, err := json.Marshal(payloads)
	if err != nil {
		return fmt.Errorf("encoding pending payloads: %w", err)
	}
	tj, err := json.Marshal(tagged)
	if err != nil {
		return fmt.Errorf("encoding tagged records: %w", err)
	}
	return d.sub.Apply(ctx, []storage.Mutation{
		storage.SetMutation(storage.KeyPendingPayloads, string(pj)),
		storage.SetMutation(storage.KeyTaggedRecords, string(tj)),
	})
}

// Clear removes both lists in one atomic step.
func (d *DurableStore) Clear(ctx context.Context) error {
	return d.sub.Apply(ctx, []storage.Mutation{
		storage.RemoveMutation(storage.KeyPendingPayloads),
		storage.RemoveMutation(storage.KeyTaggedRecords),
	})
}
