// Package router decides whether a new record goes to the server or into
// the offline queue.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/devinv/internal/records"
)

// Checker reports point-in-time connectivity.
type Checker interface {
	Check(ctx context.Context) bool
}

// Submitter sends a record to the server.
type Submitter interface {
	Submit(ctx context.Context, p records.Payload) (records.Record, error)
}

// Enqueuer buffers a record for later replay.
type Enqueuer interface {
	Enqueue(ctx context.Context, p records.Payload) (records.Record, error)
}

// Outcome is the result of a successful submission.
type Outcome struct {
	Record records.Record `json:"record"`

	// Offline is set when the record was queued instead of sent.
	Offline       bool   `json:"offline"`
	ProvisionalID string `json:"provisional_id,omitempty"`
	Message       string `json:"message"`
}

// Router routes submissions based on connectivity.
type Router struct {
	conn    Checker
	gateway Submitter
	queue   Enqueuer
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Router that sends through gateway and queues into queue
// whenever conn reports the device offline.
func New(conn Checker, gateway Submitter, queue Enqueuer) *Router {
	return &Router{
		conn:    conn,
		gateway: gateway,
		queue:   queue,
		now:     time.Now,
		logger:  slog.Default(),
	}
}

// Submit validates p and either sends it or queues it. Online failures are
// returned as they are and never fall back to the queue.
func (r *Router) Submit(ctx context.Context, p records.Payload) (Outcome, error) {
	if err := records.Validate(p, r.now()); err != nil {
		return Outcome{}, err
	}

	if !r.conn.Check(ctx) {
		rec, err := r.queue.Enqueue(ctx, p)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Record:        rec,
			Offline:       true,
			ProvisionalID: rec.ID,
			Message:       fmt.Sprintf("Data saved locally (ID: %s). Sync when online.", rec.ID),
		}, nil
	}

	rec, err := r.gateway.Submit(ctx, p)
	if err != nil {
		r.logger.Warn("record submission failed", "name", p.Name, "error", err)
		return Outcome{}, err
	}
	return Outcome{
		Record:  rec,
		Message: fmt.Sprintf("Object successfully created. ID: %s", rec.ID),
	}, nil
}
