package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/devinv/internal/records"
)

var (
	// ErrSaveLocally is returned when an offline write could not be persisted.
	ErrSaveLocally = errors.New("failed to save data locally")

	// ErrMisaligned is returned when payload and tagged lists differ in length.
	ErrMisaligned = errors.New("pending payloads and tagged records are misaligned")
)

// Manager is the single owner of the offline write queue. Every operation
// reads from and writes to durable state so a restarted process continues
// where the previous one stopped.
type Manager struct {
	store  *DurableStore
	logger *slog.Logger

	// mu serializes read-modify-write cycles against the durable lists.
	mu sync.Mutex
}

// NewManager creates a Manager persisting into sub.
func NewManager(sub Substrate) *Manager {
	return &Manager{
		store:  NewDurableStore(sub),
		logger: slog.Default(),
	}
}

// Enqueue appends payload to the queue and returns the provisional record
// assigned to it. The id is offline-{n} where n is one more than the number
// of tagged records already persisted.
func (m *Manager) Enqueue(ctx context.Context, payload records.Payload) (records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payloads, tagged, err := m.store.Load(ctx)
	if err != nil {
		return records.Record{}, fmt.Errorf("%w: %w", ErrSaveLocally, err)
	}

	id := nextProvisionalID(tagged)
	rec := payload.WithID(id)

	payloads = append(payloads, payload)
	tagged = append(tagged, rec)
	if err := m.store.Save(ctx, payloads, tagged); err != nil {
		return records.Record{}, fmt.Errorf("%w: %w", ErrSaveLocally, err)
	}

	m.logger.Info("record queued offline", "id", id, "queued", len(tagged))
	return rec, nil
}

// nextProvisionalID derives the id from the persisted count, skipping ids
// already present. Earlier failed replays can leave e.g. only offline-2
// behind, in which case the count alone would hand out offline-2 again.
func nextProvisionalID(tagged []records.Record) string {
	used := make(map[string]bool, len(tagged))
	for _, r := range tagged {
		used[r.ID] = true
	}
	n := len(tagged) + 1
	for used[records.ProvisionalID(n)] {
		n++
	}
	return records.ProvisionalID(n)
}

// Snapshot returns copies of the pending payloads and tagged records.
func (m *Manager) Snapshot(ctx context.Context) ([]records.Payload, []records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Load(ctx)
}

// ReplaceWith persists exactly the given lists. Empty lists clear the queue.
func (m *Manager) ReplaceWith(ctx context.Context, payloads []records.Payload, tagged []records.Record) error {
	if len(payloads) != len(tagged) {
		return fmt.Errorf("%w: %d payloads, %d tagged", ErrMisaligned, len(payloads), len(tagged))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(payloads) == 0 {
		return m.store.Clear(ctx)
	}
	return m.store.Save(ctx, payloads, tagged)
}

// Remove drops the first queued entry tagged with id, keeping entries
// appended since the caller's snapshot. Removing the last entry clears the
// queue. An unknown id is not an error.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payloads, tagged, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	idx := -1
	for i, r := range tagged {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	payloads = append(payloads[:idx:idx], payloads[idx+1:]...)
	tagged = append(tagged[:idx:idx], tagged[idx+1:]...)
	if len(tagged) == 0 {
		return m.store.Clear(ctx)
	}
	return m.store.Save(ctx, payloads, tagged)
}

// Clear drops both lists.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Clear(ctx)
}

// Len returns the number of queued writes.
func (m *Manager) Len(ctx context.Context) (int, error) {
	_, tagged, err := m.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(tagged), nil
}

// Tagged returns the queued records whose ids appear in ids, in queue order.
// A nil ids slice returns every queued record.
func (m *Manager) Tagged(ctx context.Context, ids []string) ([]records.Record, error) {
	_, tagged, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		return tagged, nil
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []records.Record
	for _, r := range tagged {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}
