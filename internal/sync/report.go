package sync

import (
	"time"

	"github.com/matheus3301/jot/internal/reconcile"
)

// Report summarizes a successful cycle.
type Report struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	// Drained is the number of queue entries the cycle consumed.
	Drained        int             `json:"drained"`
	Stats          reconcile.Stats `json:"stats"`
	Skipped        []string        `json:"skipped,omitempty"`
	PendingDeletes []string        `json:"pendingDeletes,omitempty"`
}
