package model

import "fmt"

// ScanStatus is the persisted stage of a scan. Statuses advance monotonically
// through the pipeline order; failed and duplicate are terminal side exits.
type ScanStatus string

const (
	StatusQueued      ScanStatus = "queued"
	StatusResolving   ScanStatus = "resolving"
	StatusDetails     ScanStatus = "details"
	StatusCompetitors ScanStatus = "competitors"
	StatusPerformance ScanStatus = "performance"
	StatusScoring     ScanStatus = "scoring"
	StatusDone        ScanStatus = "done"
	StatusFailed      ScanStatus = "failed"
	StatusDuplicate   ScanStatus = "duplicate"
)

// transitions is the allowed edge set of the scan state machine. Every
// persisted status change goes through CanTransition so that an out-of-order
// write is rejected before it reaches the store.
var transitions = map[ScanStatus][]ScanStatus{
	StatusQueued:      {StatusResolving, StatusFailed},
	StatusResolving:   {StatusDetails, StatusFailed, StatusDuplicate},
	StatusDetails:     {StatusCompetitors, StatusFailed, StatusDuplicate},
	StatusCompetitors: {StatusPerformance, StatusFailed},
	StatusPerformance: {StatusScoring, StatusFailed},
	StatusScoring:     {StatusDone, StatusFailed},
	StatusDone:        nil,
	StatusFailed:      nil,
	StatusDuplicate:   nil,
}

func init() {
	// The table must be closed over known statuses and terminal states must
	// have no outgoing edges.
	for from, tos := range transitions {
		if from.Terminal() && len(tos) > 0 {
			panic(fmt.Sprintf("model: terminal status %q has outgoing transitions", from))
		}
		for _, to := range tos {
			if _, ok := transitions[to]; !ok {
				panic(fmt.Sprintf("model: transition %q -> %q targets unknown status", from, to))
			}
		}
	}
}

// Terminal reports whether no further stage processing occurs for the status.
func (s ScanStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusDuplicate:
		return true
	}
	return false
}

// Valid reports whether s is a known scan status.
func (s ScanStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the state machine allows moving from one
// status to another.
func CanTransition(from, to ScanStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
