// Package state persists per-task orchestration state under the task
// workspace directory.
//
// Directory structure:
//
//	.stagehand/{task}/
//	├── state.json          ← stats, stage runs, signatures, sessions, probes
//	├── last_failure.json   ← structured failure record, overwritten each failure
//	├── summary.md          ← running human-readable summary
//	├── markers/            ← one {stage_id}.done file per completed stage
//	├── out/                ← one {stage_id}.md artifact per stage
//	└── review/             ← lens findings, merge result, fix queue
//
// All mutations go through the Store, which serializes read-modify-write
// cycles behind a mutex and commits with temp-write + rename so a crash
// never leaves a partially written state file.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Errors for state operations.
var (
	ErrBudgetExhausted = errors.New("paid call budget exhausted")
	ErrStateCorrupted  = errors.New("state file corrupted")
	ErrInvalidTaskName = errors.New("invalid task name: must be alphanumeric with hyphens/underscores")
	ErrPathTraversal   = errors.New("path traversal detected")
)

// taskNamePattern validates task names used as directory names.
var taskNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

const (
	stateFile       = "state.json"
	lastFailureFile = "last_failure.json"
	summaryFile     = "summary.md"
	markersDir      = "markers"
	artifactsDir    = "out"
	reviewSubdir    = "review"
)

// Store manages one task's persisted state.
type Store struct {
	mu       sync.Mutex
	task     string
	dir      string
	filePath string
	data     *Data
}

// ValidateTaskName checks if a task name is safe for filesystem paths.
func ValidateTaskName(name string) error {
	if name == "" {
		return ErrInvalidTaskName
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: name too long (max 255)", ErrInvalidTaskName)
	}
	if !taskNamePattern.MatchString(name) {
		return ErrInvalidTaskName
	}
	if name == "." || name == ".." {
		return ErrPathTraversal
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return ErrPathTraversal
	}
	return nil
}

// Open creates or loads the state store for a task. The paid-call budget is
// refreshed from config on every open; the used counter persists.
func Open(root, task string, paidCallBudget int) (*Store, error) {
	if err := ValidateTaskName(task); err != nil {
		return nil, err
	}

	dir := filepath.Join(root, task)
	s := &Store{
		task:     task,
		dir:      dir,
		filePath: filepath.Join(dir, stateFile),
		data: &Data{
			Version:    1,
			Task:       task,
			Stages:     make(map[string]*StageRun),
			Signatures: make(map[string]*ErrorSignature),
			Sessions:   make(map[string]*SessionRecord),
			Probes:     make(map[string]*CapabilityProbe),
		},
	}

	for _, sub := range []string{"", markersDir, artifactsDir, reviewSubdir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating task directory: %w", err)
		}
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading task state: %w", err)
	}

	s.data.Stats.PaidCallBudget = paidCallBudget
	if err := s.save(); err != nil {
		return nil, err
	}

	return s, nil
}

// load reads state from disk.
func (s *Store) load() error {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}

	// Initialize maps if nil (for version upgrades)
	if d.Stages == nil {
		d.Stages = make(map[string]*StageRun)
	}
	if d.Signatures == nil {
		d.Signatures = make(map[string]*ErrorSignature)
	}
	if d.Sessions == nil {
		d.Sessions = make(map[string]*SessionRecord)
	}
	if d.Probes == nil {
		d.Probes = make(map[string]*CapabilityProbe)
	}

	s.data = &d
	return nil
}

// save writes state to disk. Callers must hold s.mu (or be single-threaded
// during Open).
func (s *Store) save() error {
	s.data.Stats.UpdatedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	return writeAtomic(s.filePath, raw, 0o644)
}

// writeAtomic commits data with temp-write + rename.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Task returns the task name.
func (s *Store) Task() string { return s.task }

// Dir returns the task workspace directory.
func (s *Store) Dir() string { return s.dir }

// SummaryPath returns the running summary path.
func (s *Store) SummaryPath() string { return filepath.Join(s.dir, summaryFile) }

// LastFailurePath returns the last-failure record path.
func (s *Store) LastFailurePath() string { return filepath.Join(s.dir, lastFailureFile) }

// ReviewDir returns the directory holding review artifacts.
func (s *Store) ReviewDir() string { return filepath.Join(s.dir, reviewSubdir) }

// MarkerPath returns the done-marker path for a stage.
func (s *Store) MarkerPath(stageID string) string {
	return filepath.Join(s.dir, markersDir, stageID+".done")
}

// ArtifactPath returns the output artifact path for a stage.
func (s *Store) ArtifactPath(stageID string) string {
	return filepath.Join(s.dir, artifactsDir, stageID+".md")
}

// ReservePaidCall checks the budget and increments the used counter in one
// guarded step. It fails closed without incrementing when the budget is
// already spent, and returns the new used count otherwise.
func (s *Store) ReservePaidCall() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Stats.PaidCallsUsed >= s.data.Stats.PaidCallBudget {
		return s.data.Stats.PaidCallsUsed, fmt.Errorf("%w: %d/%d used",
			ErrBudgetExhausted, s.data.Stats.PaidCallsUsed, s.data.Stats.PaidCallBudget)
	}

	s.data.Stats.PaidCallsUsed++
	if err := s.save(); err != nil {
		return s.data.Stats.PaidCallsUsed, err
	}
	return s.data.Stats.PaidCallsUsed, nil
}

// RecordStageStart supersedes the stage's run record with a fresh attempt
// and returns the attempt number (1-based).
func (s *Store) RecordStageStart(stageID, tool, requestHash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := 1
	if prev, ok := s.data.Stages[stageID]; ok {
		attempt = prev.Attempt + 1
	}

	s.data.Stages[stageID] = &StageRun{
		StageID:     stageID,
		Tool:        tool,
		Attempt:     attempt,
		Status:      StageRunning,
		StartedAt:   time.Now().UTC(),
		RequestHash: requestHash,
	}
	return attempt, s.save()
}

// RecordStageEnd closes the stage's current run record unconditionally.
func (s *Store) RecordStageEnd(stageID string, exitCode int, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.data.Stages[stageID]
	if !ok {
		return fmt.Errorf("no run record for stage %q", stageID)
	}
	run.ExitCode = exitCode
	run.Status = status
	run.EndedAt = time.Now().UTC()
	return s.save()
}

// RecordRetry counts one retry in the task stats.
func (s *Store) RecordRetry() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Stats.Retries++
	return s.save()
}

// RecordSignature accumulates one occurrence of a normalized failure
// signature and returns the updated record.
func (s *Store) RecordSignature(class, signature string) (ErrorSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sig, ok := s.data.Signatures[signature]
	if !ok {
		sig = &ErrorSignature{
			Class:     class,
			Signature: signature,
			FirstSeen: now,
		}
		s.data.Signatures[signature] = sig
	}
	sig.Count++
	sig.LastSeen = now

	return *sig, s.save()
}

// SignatureCount returns the cumulative count for a signature, zero if
// never seen.
func (s *Store) SignatureCount(signature string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sig, ok := s.data.Signatures[signature]; ok {
		return sig.Count
	}
	return 0
}

func sessionKey(phase, tool string) string {
	return phase + "/" + tool
}

// Session returns a copy of the session record for a (phase, tool) pair.
func (s *Store) Session(phase, tool string) (SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data.Sessions[sessionKey(phase, tool)]
	if !ok {
		return SessionRecord{}, false
	}
	return *rec, true
}

// PutSession upserts the session record for its (phase, tool) pair.
func (s *Store) PutSession(rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Sessions[sessionKey(rec.Phase, rec.Tool)] = &rec
	return s.save()
}

// Probe returns a copy of the cached capability probe for a (phase, tool)
// pair.
func (s *Store) Probe(phase, tool string) (CapabilityProbe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data.Probes[sessionKey(phase, tool)]
	if !ok {
		return CapabilityProbe{}, false
	}
	return *p, true
}

// PutProbe caches a capability probe for its (phase, tool) pair.
func (s *Store) PutProbe(p CapabilityProbe) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Probes[sessionKey(p.Phase, p.Tool)] = &p
	return s.save()
}

// IsStageDone reports whether the stage's done-marker exists.
func (s *Store) IsStageDone(stageID string) bool {
	_, err := os.Stat(s.MarkerPath(stageID))
	return err == nil
}

// MarkStageDone persists the done-marker, then updates completion stats.
func (s *Store) MarkStageDone(stageID string) error {
	marker := fmt.Sprintf("done %s\n", time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(s.MarkerPath(stageID), []byte(marker), 0o644); err != nil {
		return fmt.Errorf("writing done marker: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Stats.StagesDone++
	return s.save()
}

// WriteArtifact stores a stage's output artifact.
func (s *Store) WriteArtifact(stageID string, content []byte) error {
	return writeAtomic(s.ArtifactPath(stageID), content, 0o644)
}

// ReadArtifact returns a stage's output artifact, or nil if none exists.
func (s *Store) ReadArtifact(stageID string) ([]byte, error) {
	raw, err := os.ReadFile(s.ArtifactPath(stageID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return raw, err
}

// WriteReviewArtifact stores a named artifact under the review
// directory (lens outputs, merge report, fix queue).
func (s *Store) WriteReviewArtifact(name string, content []byte) error {
	if err := ValidateTaskName(name); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.ReviewDir(), name), content, 0o644)
}

// ReadReviewArtifact returns a named review artifact, or nil if absent.
func (s *Store) ReadReviewArtifact(name string) ([]byte, error) {
	if err := ValidateTaskName(name); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(s.ReviewDir(), name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return raw, err
}

// WriteSummary replaces the running summary document.
func (s *Store) WriteSummary(content []byte) error {
	return writeAtomic(s.SummaryPath(), content, 0o644)
}

// WriteLastFailure overwrites the last-failure record.
func (s *Store) WriteLastFailure(rec *LastFailure) error {
	rec.Task = s.task
	rec.OccurredAt = time.Now().UTC()

	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling last failure: %w", err)
	}
	return writeAtomic(s.LastFailurePath(), raw, 0o644)
}

// ReadLastFailure returns the last-failure record, or nil if none exists.
func (s *Store) ReadLastFailure() (*LastFailure, error) {
	raw, err := os.ReadFile(s.LastFailurePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec LastFailure
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}
	return &rec, nil
}

// Snapshot returns a deep copy of the current state for read-only display.
func (s *Store) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Data{
		Version:    s.data.Version,
		Task:       s.data.Task,
		Stats:      s.data.Stats,
		Stages:     make(map[string]*StageRun, len(s.data.Stages)),
		Signatures: make(map[string]*ErrorSignature, len(s.data.Signatures)),
		Sessions:   make(map[string]*SessionRecord, len(s.data.Sessions)),
		Probes:     make(map[string]*CapabilityProbe, len(s.data.Probes)),
	}
	for k, v := range s.data.Stages {
		c := *v
		out.Stages[k] = &c
	}
	for k, v := range s.data.Signatures {
		c := *v
		out.Signatures[k] = &c
	}
	for k, v := range s.data.Sessions {
		c := *v
		out.Sessions[k] = &c
	}
	for k, v := range s.data.Probes {
		c := *v
		out.Probes[k] = &c
	}
	return out
}
