package reconcile

import (
	"fmt"

	"github.com/kalambet/devinv/internal/records"
)

// Report summarizes one replay cycle.
type Report struct {
	Synced            int               `json:"synced"`
	Failed            int               `json:"failed"`
	Remaining         int               `json:"remaining"`
	RemainingPayloads []records.Payload `json:"remaining_payloads"`

	// IDMap maps provisional ids to the ids the server assigned.
	IDMap map[string]string `json:"id_map"`
}

// Summary renders the report as a user-facing message. It is empty when
// nothing was attempted.
func (r Report) Summary() string {
	switch {
	case r.Synced > 0 && r.Failed == 0:
		return fmt.Sprintf("%d object(s) synced successfully.", r.Synced)
	case r.Synced > 0 && r.Failed > 0:
		return fmt.Sprintf("%d synced, %d failed. %d remaining in queue.", r.Synced, r.Failed, r.Remaining)
	case r.Failed > 0:
		return fmt.Sprintf("Failed to sync %d object(s). %d remaining in queue.", r.Failed, r.Remaining)
	default:
		return ""
	}
}

// State is the reconciler's position in a replay cycle.
type State int32

const (
	Idle State = iota
	Checking
	Blocked
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Checking:
		return "checking"
	case Blocked:
		return "blocked"
	case Draining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
