package state

import "time"

// Stage run statuses.
const (
	StageRunning = "running"
	StageDone    = "done"
	StageFailed  = "failed"
)

// Session record statuses.
const (
	SessionBaseline = "baseline"
	SessionActive   = "active"
)

// Session id extraction confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
)

// Session id sources.
const (
	SourceProtocolEvent = "protocol_event"
	SourceStateDirDiff  = "state_dir_diff"
)

// Stats holds the task-wide budget and progress counters.
type Stats struct {
	PaidCallsUsed  int       `json:"paid_calls_used"`
	PaidCallBudget int       `json:"paid_call_budget"`
	StagesDone     int       `json:"stages_done"`
	Retries        int       `json:"retries"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StageRun records one stage attempt. Each new attempt supersedes the
// previous record for the same stage id.
type StageRun struct {
	StageID     string    `json:"stage_id"`
	Tool        string    `json:"tool"`
	Attempt     int       `json:"attempt"`
	Status      string    `json:"status"`
	ExitCode    int       `json:"exit_code"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
	RequestHash string    `json:"request_hash,omitempty"`
}

// ErrorSignature accumulates occurrences of one normalized failure across
// the task's lifetime, not just the current run.
type ErrorSignature struct {
	Class     string    `json:"class"`
	Signature string    `json:"signature"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// SessionRecord tracks multi-turn tool context for one (phase, tool) pair.
// Exactly one exists per pair; the first recorded id is the baseline.
type SessionRecord struct {
	Phase      string    `json:"phase"`
	Tool       string    `json:"tool"`
	SessionID  string    `json:"session_id"`
	Source     string    `json:"source"`
	Confidence string    `json:"confidence"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// CapabilityProbe caches a tool's resume capability for one phase.
type CapabilityProbe struct {
	Phase           string `json:"phase"`
	Tool            string `json:"tool"`
	ResumeSupported bool   `json:"resume_supported"`
	IDSource        string `json:"id_source,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// RecoveryRecord describes how to recover from a session continuity break.
type RecoveryRecord struct {
	Phase             string   `json:"phase"`
	Tool              string   `json:"tool"`
	ExpectedSessionID string   `json:"expected_session_id"`
	ActualSessionID   string   `json:"actual_session_id"`
	ManualSteps       []string `json:"manual_steps"`
}

// LastFailure is the structured failure record overwritten on each new
// failure, so recovery never requires re-deriving root cause from raw logs.
type LastFailure struct {
	Task             string          `json:"task"`
	StageID          string          `json:"stage_id"`
	Tool             string          `json:"tool"`
	Class            string          `json:"class"`
	Signature        string          `json:"signature,omitempty"`
	ExitCode         int             `json:"exit_code"`
	StderrExcerpt    string          `json:"stderr_excerpt,omitempty"`
	SuggestedActions []string        `json:"suggested_actions,omitempty"`
	Recovery         *RecoveryRecord `json:"recovery,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// Data is the persisted task state structure.
type Data struct {
	Version    int                         `json:"version"`
	Task       string                      `json:"task"`
	Stats      Stats                       `json:"stats"`
	Stages     map[string]*StageRun        `json:"stages"`     // key: stage id
	Signatures map[string]*ErrorSignature  `json:"signatures"` // key: signature
	Sessions   map[string]*SessionRecord   `json:"sessions"`   // key: phase/tool
	Probes     map[string]*CapabilityProbe `json:"probes"`     // key: phase/tool
}
