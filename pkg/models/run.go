package models

import "time"

// --- Run lifecycle ---

// RunState is the orchestrator's per-SIC state machine position.
type RunState string

const (
	StatePending     RunState = "PENDING"
	StateResolving   RunState = "RESOLVING"
	StateProcessing  RunState = "PROCESSING"
	StateAggregating RunState = "AGGREGATING"
	StateDone        RunState = "DONE"
	StateFailed      RunState = "FAILED"
)

// FailurePolicy decides the status written for a ticker whose every
// document failed to yield a record.
type FailurePolicy string

const (
	// PolicyMarkFailed records the ticker as failed so a resumed run
	// retries it. The safe default.
	PolicyMarkFailed FailurePolicy = "mark_failed"
	// PolicyMarkProcessed records the ticker as completed with zero
	// records; it will not be retried.
	PolicyMarkProcessed FailurePolicy = "mark_processed"
)

// Failure categories used to bucket errors in run summaries.
const (
	FailureLookup      = "lookup"
	FailureTransient   = "transient"
	FailureParse       = "parse"
	FailurePersistence = "persistence"
	FailureOther       = "other"
)

// RunSummary is the end-of-run report for one SIC code, also persisted
// as summary_{sic}.json in the output directory.
type RunSummary struct {
	RunID              string         `json:"run_id"`
	SICCode            int            `json:"sic_code"`
	State              RunState       `json:"state"`
	CompaniesTotal     int            `json:"companies_total"`
	CompaniesProcessed int            `json:"companies_processed"`
	CompaniesFailed    int            `json:"companies_failed"`
	CompaniesSkipped   int            `json:"companies_skipped"` // already completed before this run
	RecordsWritten     int            `json:"records_written"`
	Failures           map[string]int `json:"failures,omitempty"` // category → count
	Error              string         `json:"error,omitempty"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
}

// Clean reports whether the SIC run reached DONE with no recorded failures.
// The process exit status is zero only when every summary is clean.
func (s RunSummary) Clean() bool {
	return s.State == StateDone && s.CompaniesFailed == 0 && s.Error == ""
}

// Copy returns a deep copy that is safe to hand to another goroutine
// while the original keeps accumulating counts.
func (s RunSummary) Copy() RunSummary {
	out := s
	out.Failures = make(map[string]int, len(s.Failures))
	for k, v := range s.Failures {
		out.Failures[k] = v
	}
	return out
}

// --- Progress events ---

// ProgressEvent is emitted at run, SIC and ticker transitions. The
// monitor API broadcasts these over its websocket channel.
type ProgressEvent struct {
	RunID   string    `json:"run_id"`
	SICCode int       `json:"sic_code,omitempty"`
	Ticker  string    `json:"ticker,omitempty"`
	Stage   string    `json:"stage"` // "resolving", "processing", "ticker_done", ...
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}
