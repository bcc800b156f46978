// Package reconcile replays writes queued while offline against the server
// and reports which provisional ids became which server ids.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/devinv/internal/records"
	"github.com/kalambet/devinv/internal/storage"
)

var (
	// ErrStillOffline is returned when a replay is requested without connectivity.
	ErrStillOffline = errors.New("device is still offline")

	// ErrSyncFailed wraps failures to persist the reduced queue.
	ErrSyncFailed = errors.New("failed to sync offline queue")
)

// Checker reports point-in-time connectivity.
type Checker interface {
	Check(ctx context.Context) bool
}

// Submitter sends a record to the server.
type Submitter interface {
	Submit(ctx context.Context, p records.Payload) (records.Record, error)
}

// Queue is the part of the queue manager a replay needs.
type Queue interface {
	Snapshot(ctx context.Context) ([]records.Payload, []records.Record, error)
	Remove(ctx context.Context, id string) error
}

// RemapConsumer patches cached records after a replay.
type RemapConsumer interface {
	ApplyRemap(ctx context.Context, idMap map[string]string) (int, error)
}

// RunRecorder persists the outcome of each replay cycle.
type RunRecorder interface {
	SaveSyncRun(ctx context.Context, r storage.SyncRun) error
}

// ChangeSource delivers connectivity transitions.
type ChangeSource interface {
	OnChange(fn func(online bool)) (unsubscribe func())
}

// Deps holds the reconciler's collaborators. Consumers and Recorder are optional.
type Deps struct {
	Conn      Checker
	Gateway   Submitter
	Queue     Queue
	Consumers []RemapConsumer
	Recorder  RunRecorder
}

// Reconciler drains the offline queue. At most one cycle runs at a time;
// callers arriving while one is in flight share its result.
type Reconciler struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group
	state atomic.Int32
	wg    sync.WaitGroup
}

// New creates a Reconciler in the Idle state.
func New(deps Deps) *Reconciler {
	return &Reconciler{
		deps:   deps,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// State returns where the current cycle is.
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

// Replay drains the queue once. A failure of individual items is reported in
// the Report, not as an error. When err wraps ErrSyncFailed the Report still
// describes the items processed before the failure.
func (r *Reconciler) Replay(ctx context.Context) (Report, error) {
	v, err, shared := r.group.Do("replay", func() (any, error) {
		return r.replay(ctx)
	})
	if shared {
		r.logger.Debug("joined in-flight replay")
	}
	rep, _ := v.(Report)
	return rep, err
}

func (r *Reconciler) replay(ctx context.Context) (Report, error) {
	defer r.state.Store(int32(Idle))

	r.state.Store(int32(Checking))
	if !r.deps.Conn.Check(ctx) {
		r.state.Store(int32(Blocked))
		return Report{}, ErrStillOffline
	}

	payloads, tagged, err := r.deps.Queue.Snapshot(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}
	if len(payloads) == 0 {
		return Report{IDMap: map[string]string{}}, nil
	}

	r.state.Store(int32(Draining))
	started := r.now()
	rep, err := r.drain(ctx, payloads, tagged)
	r.notifyConsumers(ctx, rep.IDMap)
	r.record(ctx, started, rep, err)

	if err != nil {
		r.logger.Error("replay aborted", "synced", rep.Synced, "error", err)
		return rep, err
	}
	r.logger.Info("replay finished", "synced", rep.Synced, "failed", rep.Failed, "remaining", rep.Remaining)
	return rep, nil
}

// drain submits every payload in queue order. Each success is removed from
// the durable queue right away so a crash never leaves a sent record queued.
func (r *Reconciler) drain(ctx context.Context, payloads []records.Payload, tagged []records.Record) (Report, error) {
	rep := Report{IDMap: map[string]string{}}
	// Persistence must finish even if the caller goes away mid-cycle.
	persistCtx := context.WithoutCancel(ctx)

	for i, p := range payloads {
		tempID := tagged[i].ID

		created, err := r.deps.Gateway.Submit(ctx, p)
		if err != nil {
			r.logger.Warn("replay item failed", "id", tempID, "error", err)
			rep.Failed++
			rep.RemainingPayloads = append(rep.RemainingPayloads, p)
			continue
		}

		if err := r.deps.Queue.Remove(persistCtx, tempID); err != nil {
			// The item is still persisted, so it stays out of IDMap and is
			// counted as remaining. The next replay submits it again.
			r.logger.Error("accepted record left in queue", "id", tempID, "server_id", created.ID, "error", err)
			rep.RemainingPayloads = append(rep.RemainingPayloads, payloads[i:]...)
			rep.Remaining = len(rep.RemainingPayloads)
			return rep, fmt.Errorf("%w: removing %s: %w", ErrSyncFailed, tempID, err)
		}

		rep.Synced++
		if tempID != "" {
			rep.IDMap[tempID] = created.ID
		}
	}

	rep.Remaining = len(rep.RemainingPayloads)
	return rep, nil
}

func (r *Reconciler) notifyConsumers(ctx context.Context, idMap map[string]string) {
	if len(idMap) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, c := range r.deps.Consumers {
		if _, err := c.ApplyRemap(ctx, idMap); err != nil {
			r.logger.Warn("applying id remap failed", "error", err)
		}
	}
}

func (r *Reconciler) record(ctx context.Context, started time.Time, rep Report, runErr error) {
	if r.deps.Recorder == nil {
		return
	}
	run := storage.SyncRun{
		ID:         uuid.New().String(),
		StartedAt:  started,
		FinishedAt: r.now(),
		Synced:     rep.Synced,
		Failed:     rep.Failed,
		Remaining:  rep.Remaining,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := r.deps.Recorder.SaveSyncRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("recording sync run failed", "error", err)
	}
}

// Subscribe replays whenever src reports a transition to online (and on the
// first observation if it is online) while the queue is non-empty. Replays
// run in the background under ctx.
func (r *Reconciler) Subscribe(ctx context.Context, src ChangeSource) (unsubscribe func()) {
	var mu sync.Mutex
	var wasOffline *bool

	return src.OnChange(func(online bool) {
		mu.Lock()
		first := wasOffline == nil
		prevOffline := !first && *wasOffline
		offline := !online
		wasOffline = &offline
		mu.Unlock()

		if !online || !(first || prevOffline) {
			return
		}
		r.trigger(ctx)
	})
}

// Wait blocks until replays started by Subscribe have returned.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

func (r *Reconciler) trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		_, tagged, err := r.deps.Queue.Snapshot(ctx)
		if err != nil {
			r.logger.Warn("reading queue before replay", "error", err)
			return
		}
		if len(tagged) == 0 {
			return
		}

		rep, err := r.Replay(ctx)
		if err != nil {
			r.logger.Warn("automatic replay failed", "error", err)
			return
		}
		if msg := rep.Summary(); msg != "" {
			r.logger.Info(msg)
		}
	}()
}
