// Package api exposes the record client over a local HTTP API and MCP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/devinv/internal/reconcile"
	"github.com/kalambet/devinv/internal/records"
	"github.com/kalambet/devinv/internal/resolve"
	"github.com/kalambet/devinv/internal/router"
	"github.com/kalambet/devinv/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const (
	defaultRunsLimit = 10
	maxRunsLimit     = 100
)

// Submitter routes a new record to the server or the offline queue.
type Submitter interface {
	Submit(ctx context.Context, p records.Payload) (router.Outcome, error)
}

// Reader answers record reads.
type Reader interface {
	Resolve(ctx context.Context, ids []string) (resolve.Result, error)
}

// Replayer drains the offline queue.
type Replayer interface {
	Replay(ctx context.Context) (reconcile.Report, error)
}

// QueueReader lists queued records. A nil ids slice lists all of them.
type QueueReader interface {
	Tagged(ctx context.Context, ids []string) ([]records.Record, error)
}

// RunLister reads sync history.
type RunLister interface {
	RecentSyncRuns(ctx context.Context, limit int) ([]storage.SyncRun, error)
}

// Checker reports point-in-time connectivity.
type Checker interface {
	Check(ctx context.Context) bool
}

type AppDeps struct {
	Router     Submitter
	Resolver   Reader
	Reconciler Replayer
	Queue      QueueReader
	Runs       RunLister
	Conn       Checker
	Token      string // optional; empty disables auth
}

// QueueResponse is the body of GET /queue.
type QueueResponse struct {
	Count   int              `json:"count"`
	Records []records.Record `json:"records"`
}

// SyncResponse is the body of POST /sync.
type SyncResponse struct {
	reconcile.Report
	Message string `json:"message,omitempty"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/records", handleCreateRecord(deps))
		r.Get("/records", handleGetRecords(deps))
		r.Post("/sync", handleSync(deps))
		r.Get("/queue", handleQueue(deps))
		r.Get("/sync/runs", handleSyncRuns(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"online": deps.Conn.Check(r.Context()),
		})
	}
}

func handleCreateRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var p records.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		out, err := deps.Router.Submit(r.Context(), p)
		if err != nil {
			writeError(w, err)
			return
		}

		code := http.StatusCreated
		if out.Offline {
			code = http.StatusAccepted
		}
		writeJSON(w, code, out)
	}
}

// requestedIDs collects ids from ?ids=a,b and repeated ?id= parameters.
func requestedIDs(r *http.Request) []string {
	q := r.URL.Query()
	var ids []string
	for _, v := range q["ids"] {
		ids = append(ids, records.ParseIDs(v)...)
	}
	for _, v := range q["id"] {
		ids = append(ids, records.ParseIDs(v)...)
	}
	return ids
}

func handleGetRecords(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := requestedIDs(r)
		if err := records.ValidateIDs(ids); err != nil {
			writeError(w, err)
			return
		}

		res, err := deps.Resolver.Resolve(r.Context(), ids)
		if err != nil {
			writeError(w, err)
			return
		}
		if res.Records == nil {
			res.Records = []records.Record{}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleSync(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := deps.Reconciler.Replay(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SyncResponse{Report: rep, Message: rep.Summary()})
	}
}

func handleQueue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tagged, err := deps.Queue.Tagged(r.Context(), nil)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "reading queue: %v", err)
			return
		}
		if tagged == nil {
			tagged = []records.Record{}
		}
		writeJSON(w, http.StatusOK, QueueResponse{Count: len(tagged), Records: tagged})
	}
}

func handleSyncRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRunsLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, maxRunsLimit)
		}

		runs, err := deps.Runs.RecentSyncRuns(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "reading sync runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.SyncRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}
