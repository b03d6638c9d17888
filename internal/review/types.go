// Package review runs the parallel analysis fan-out: N lens workers, a
// timeout-bounded join barrier, finding merge and dedup, a sequential
// fix queue, and the security escalation loop.
package review

import "time"

// Severity orders findings. Rank 0 is the most severe.
type Severity string

// Severity scale, most to least severe.
const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMedium   Severity = "medium"
	SeverityMinor    Severity = "minor"
	SeverityLow      Severity = "low"
)

// Rank returns the sort rank: lower is more severe. Unrecognized values
// sort with minor.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityMajor:
		return 1
	case SeverityMedium:
		return 2
	case SeverityMinor:
		return 3
	case SeverityLow:
		return 4
	}
	return 3
}

// MoreSevere reports whether s outranks other.
func (s Severity) MoreSevere(other Severity) bool {
	return s.Rank() < other.Rank()
}

// RawFinding is one parsed item from a lens's free-text output, before
// merge assigns identity.
type RawFinding struct {
	Lens                 string   `json:"lens"`
	TargetFile           string   `json:"target_file"`
	TargetLocation       string   `json:"target_location,omitempty"`
	Issue                string   `json:"issue"`
	Severity             Severity `json:"severity"`
	Confidence           string   `json:"confidence"`
	UsesExternalEvidence bool     `json:"uses_external_evidence"`
	// Proposal is the suggested improvement, empty when the lens offered
	// none.
	Proposal string `json:"proposal,omitempty"`
}

// Finding is a merged, deduplicated review finding. Produced only by
// merge; never mutated afterwards except severity escalation during
// dedup itself.
type Finding struct {
	FindingID int `json:"finding_id"`
	RawFinding
}

// MergeStats summarizes one merge pass.
type MergeStats struct {
	RawCount          int `json:"raw_count"`
	FindingCount      int `json:"finding_count"`
	ConflictsResolved int `json:"conflicts_resolved"`
}

// Fix queue item statuses.
const (
	FixPending = "pending"
	FixApplied = "applied"
	FixFailed  = "failed"
	FixSkipped = "skipped"
)

// FixQueueItem is one actionable fix derived from a merged finding.
type FixQueueItem struct {
	QueueID    int    `json:"queue_id"`
	FindingID  int    `json:"finding_id"`
	TargetFile string `json:"target_file"`
	Action     string `json:"action"`
	// Priority is the severity rank; queue order is ascending priority.
	Priority int    `json:"priority"`
	Status   string `json:"status"`
	Note     string `json:"note,omitempty"`
}

// Security gate stop actions.
const (
	StopHaltForHuman      = "halt_for_human"
	StopWarnHighRemaining = "warn_high_remaining"
)

// SecurityGateResult is the terminal state of the escalation loop.
type SecurityGateResult struct {
	// FinalSeverity is the residual security severity: none, high, or
	// critical.
	FinalSeverity string `json:"final_severity"`
	// StopAction is empty for a clean exit.
	StopAction            string    `json:"stop_action,omitempty"`
	RoundsRun             int       `json:"rounds_run"`
	CriticalFindings      []Finding `json:"critical_findings,omitempty"`
	HighFindingsRemaining []Finding `json:"high_findings_remaining,omitempty"`
}

// Lens outcome states for the join barrier.
const (
	LensFinished = "finished"
	LensDegraded = "degraded"
	LensTimedOut = "timed_out"
)

// LensStatus records one lens's fate at the barrier.
type LensStatus struct {
	Lens    string        `json:"lens"`
	State   string        `json:"state"`
	Elapsed time.Duration `json:"elapsed"`
	Error   string        `json:"error,omitempty"`
}

// Report is the complete review artifact persisted after a run.
type Report struct {
	RunID      string              `json:"run_id"`
	Provenance *Provenance         `json:"provenance,omitempty"`
	Lenses     []LensStatus        `json:"lenses"`
	Findings   []Finding           `json:"findings"`
	Merge      MergeStats          `json:"merge"`
	Queue      []FixQueueItem      `json:"queue"`
	Security   *SecurityGateResult `json:"security,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	EndedAt    time.Time           `json:"ended_at"`
}
