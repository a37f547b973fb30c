package sync

import (
	"errors"
	"fmt"
	"time"
)

// Strategy selects how the resolver treats records changed on both sides.
type Strategy string

const (
	// StrategyLatest keeps whichever side has the larger updatedAt.
	StrategyLatest Strategy = "latest"
	// StrategyMerge unions both collections; shared ids resolve like latest.
	// Records are atomic units: concurrent edits to different fields of one
	// record do not combine.
	StrategyMerge Strategy = "merge"
	// StrategyManual holds back records both sides changed since the last sync.
	StrategyManual Strategy = "manual"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyLatest, StrategyMerge, StrategyManual:
		return st, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q (want latest, merge or manual)", s)
}

// State is the coordinator's sync state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateOffline State = "offline"
)

// Mode is the kind of sync cycle.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Errors returned by coordinator operations.
var (
	ErrNotLinked      = errors.New("sync is not set up: run 'riff auth login'")
	ErrSyncDisabled   = errors.New("cloud sync is disabled")
	ErrAuthRequired   = errors.New("remote rejected credentials: re-authenticate to resume sync")
	ErrRecordNotFound = errors.New("record not found")
	ErrClosed         = errors.New("sync coordinator closed")
	ErrRecordTooLarge = errors.New("record too large to upload")
)

// Status is a snapshot of sync health.
type Status struct {
	Enabled       bool
	InProgress    bool
	State         State
	Strategy      Strategy
	LastSyncTime  time.Time
	PendingCount  int
	DirtyCount    int
	ConflictCount int
	AuthRequired  bool
	LastError     string
}

// DrainResult summarizes one write-queue drain.
type DrainResult struct {
	Applied  int // coalesced writes sent
	Entries  int // queue entries those writes covered
	Failed   int // writes that failed and stay queued
	Dropped  int // poison entries discarded
	Deferred int // entries left for the next drain
	Held     int // entries waiting on a conflict resolution
}

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	Mode      Mode
	Skipped   bool // another cycle was already in flight
	Pulled    int  // records written locally
	Pushed    int  // records written remotely
	Conflicts int
	Rejected  int // records the remote refused; kept locally only
	Acked     int // queue entries covered by the batch commit
	Drain     DrainResult
	Started   time.Time
	Duration  time.Duration
}
