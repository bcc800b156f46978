package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Keys under which the client keeps its durable state.
const (
	KeyPendingPayloads = "@RestfulApiApp:offlineObjects"
	KeyTaggedRecords   = "@RestfulApiApp:offlineObjectsWithIds"
	KeyLastFetched     = "@RestfulApiApp:lastFetchedObjects"
)

// Mutation is one write applied by Apply. A nil Value removes the key.
type Mutation struct {
	Key   string
	Value *string
}

// SetMutation returns a Mutation that stores value under key.
func SetMutation(key, value string) Mutation {
	return Mutation{Key: key, Value: &value}
}

// RemoveMutation returns a Mutation that deletes key.
func RemoveMutation(key string) Mutation {
	return Mutation{Key: key}
}

// SyncRun is the persisted outcome of one replay cycle.
type SyncRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	Remaining  int       `json:"remaining"`
	Error      string    `json:"error,omitempty"`
}
