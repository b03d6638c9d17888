// Package session manages multi-turn tool context across the stages of
// one phase.
//
// Some tools preserve reasoning state across calls; resuming that state
// avoids re-deriving context each stage. The first session id recorded
// for a (phase, tool) pair becomes the phase baseline. Once a baseline
// exists every resumed call must come back on the same id. A mismatch
// means the tool silently started over, and continuing would corrupt
// everything built on its prior reasoning, so the manager fails fast.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stagehand/internal/adapter"
	"github.com/fyrsmithlabs/stagehand/internal/logging"
	"github.com/fyrsmithlabs/stagehand/internal/plan"
	"github.com/fyrsmithlabs/stagehand/internal/state"
	"github.com/fyrsmithlabs/stagehand/internal/telemetry"
)

// Session modes.
const (
	ModeForcedWithinPhase = "forced_within_phase"
	ModeFresh             = "fresh"
)

// ErrConcurrentResume is returned when a second caller tries to resume a
// (phase, tool) baseline while a resume is already in flight. Two
// simultaneous resumers of one baseline would race the tool's session
// state, so it is rejected outright.
var ErrConcurrentResume = errors.New("concurrent resume of the same session baseline")

// ErrAmbiguousExtraction is returned when directory-diff extraction finds
// zero or more than one new session entry while a baseline required
// validation.
var ErrAmbiguousExtraction = errors.New("ambiguous session id extraction")

// MismatchError is the fatal continuity break: a resumed call returned a
// different session id than the phase baseline.
type MismatchError struct {
	Phase    string
	Tool     string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("session mismatch for (%s, %s): expected %q, tool returned %q",
		e.Phase, e.Tool, e.Expected, e.Actual)
}

// Recovery builds the structured recovery record for the failure file.
func (e *MismatchError) Recovery() *state.RecoveryRecord {
	return &state.RecoveryRecord{
		Phase:             e.Phase,
		Tool:              e.Tool,
		ExpectedSessionID: e.Expected,
		ActualSessionID:   e.Actual,
		ManualSteps: []string{
			fmt.Sprintf("inspect the %s session state for phase %q", e.Tool, e.Phase),
			fmt.Sprintf("if session %q is gone, delete the session record to re-baseline", e.Expected),
			"re-run the failed stage once continuity is restored",
		},
	}
}

// CapabilityProber is the slice of the adapter the manager needs.
type CapabilityProber interface {
	Capabilities(tool plan.Tool) (adapter.Capabilities, error)
}

// Manager decides resume behavior before each stage and validates the
// session actually used after it.
type Manager struct {
	store  *state.Store
	prober CapabilityProber
	mode   string
	logger *logging.Logger
	ins    *telemetry.Instruments

	mu       sync.Mutex
	inflight map[string]bool // (phase/tool) pairs with an active resume

	// listDir is swapped in tests.
	listDir func(dir string) ([]string, error)
}

// NewManager builds the continuity manager. mode is forced_within_phase
// or fresh.
func NewManager(store *state.Store, prober CapabilityProber, mode string, logger *logging.Logger, ins *telemetry.Instruments) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:    store,
		prober:   prober,
		mode:     mode,
		logger:   logger,
		ins:      ins,
		inflight: make(map[string]bool),
		listDir:  listDirNames,
	}
}

// Probe determines the tool's resume capability for a phase, computing
// it once and caching it in the task state.
func (m *Manager) Probe(ctx context.Context, phase string, tool plan.Tool) (state.CapabilityProbe, error) {
	if cached, ok := m.store.Probe(phase, string(tool)); ok {
		return cached, nil
	}

	caps, err := m.prober.Capabilities(tool)
	if err != nil {
		return state.CapabilityProbe{}, fmt.Errorf("probing %s capabilities: %w", tool, err)
	}

	probe := state.CapabilityProbe{
		Phase:           phase,
		Tool:            string(tool),
		ResumeSupported: caps.ResumeSupported,
	}
	switch {
	case caps.EmitsSessionEvent:
		probe.IDSource = state.SourceProtocolEvent
		probe.Notes = "session id reported via protocol event"
	case caps.StateDir != "":
		probe.IDSource = state.SourceStateDirDiff
		probe.Notes = "session id derived from state directory diff"
	default:
		probe.Notes = "no session surface"
	}

	if err := m.store.PutProbe(probe); err != nil {
		return state.CapabilityProbe{}, err
	}
	m.logger.Debug(ctx, "capability probe computed",
		zap.String("phase", phase),
		zap.String("tool", string(tool)),
		zap.Bool("resume_supported", probe.ResumeSupported),
		zap.String("id_source", probe.IDSource),
	)
	return probe, nil
}

// Handle tracks one stage's continuity obligations from pre-stage
// decision to post-stage validation. Exactly one of Finish or Abort must
// be called.
type Handle struct {
	m     *Manager
	phase string
	tool  plan.Tool
	probe state.CapabilityProbe

	// ResumeID is the baseline to pass to the adapter, empty for a fresh
	// call.
	ResumeID string

	baseline    *state.SessionRecord
	dirSnapshot map[string]bool
	held        bool // inflight slot held
	done        bool
}

// PreStage decides whether the upcoming call resumes the phase baseline.
// With no baseline yet the call runs fresh and establishes one; with an
// unsupported tool every call is fresh.
func (m *Manager) PreStage(ctx context.Context, phase string, tool plan.Tool) (*Handle, error) {
	h := &Handle{m: m, phase: phase, tool: tool}

	if m.mode != ModeForcedWithinPhase {
		return h, nil
	}

	probe, err := m.Probe(ctx, phase, tool)
	if err != nil {
		return nil, err
	}
	h.probe = probe
	if !probe.ResumeSupported {
		return h, nil
	}

	if rec, ok := m.store.Session(phase, string(tool)); ok {
		h.baseline = &rec
		h.ResumeID = rec.SessionID

		key := sessionPairKey(phase, string(tool))
		m.mu.Lock()
		if m.inflight[key] {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: (%s, %s)", ErrConcurrentResume, phase, tool)
		}
		m.inflight[key] = true
		m.mu.Unlock()
		h.held = true
	}

	if probe.IDSource == state.SourceStateDirDiff {
		snap, err := m.snapshotStateDir(tool)
		if err != nil {
			m.logger.Warn(ctx, "state dir snapshot failed, extraction degraded",
				zap.String("tool", string(tool)), zap.Error(err))
		}
		h.dirSnapshot = snap
	}

	return h, nil
}

// Finish extracts the session id the call actually used and validates it
// against the baseline. A nil result (the call never ran) just releases
// the handle.
func (h *Handle) Finish(ctx context.Context, res *adapter.Result) error {
	if h.done {
		return nil
	}
	h.release()

	m := h.m
	if m.mode != ModeForcedWithinPhase || !h.probe.ResumeSupported || res == nil {
		return nil
	}

	extracted, source, err := h.extract(res)
	if err != nil {
		if h.baseline != nil {
			// Continuity was required; an unverifiable session is a break.
			return fmt.Errorf("validating session for (%s, %s): %w", h.phase, h.tool, err)
		}
		m.logger.Warn(ctx, "session id extraction inconclusive, no baseline yet",
			zap.String("phase", h.phase),
			zap.String("tool", string(h.tool)),
			zap.Error(err),
		)
		return nil
	}
	if extracted == "" {
		if h.baseline != nil {
			return &MismatchError{Phase: h.phase, Tool: string(h.tool), Expected: h.baseline.SessionID, Actual: ""}
		}
		return nil
	}

	now := time.Now().UTC()
	if h.baseline == nil {
		rec := state.SessionRecord{
			Phase:      h.phase,
			Tool:       string(h.tool),
			SessionID:  extracted,
			Source:     source,
			Confidence: confidenceFor(source),
			Status:     state.SessionBaseline,
			CreatedAt:  now,
			LastUsedAt: now,
		}
		if err := m.store.PutSession(rec); err != nil {
			return err
		}
		m.logger.Info(ctx, "session baseline established",
			zap.String("phase", h.phase),
			zap.String("tool", string(h.tool)),
			zap.String("session_id", extracted),
			zap.String("confidence", rec.Confidence),
		)
		return nil
	}

	if extracted != h.baseline.SessionID {
		m.ins.RecordMismatch(ctx, string(h.tool))
		m.logger.Error(ctx, "session continuity broken",
			zap.String("phase", h.phase),
			zap.String("tool", string(h.tool)),
			zap.String("expected", h.baseline.SessionID),
			zap.String("actual", extracted),
		)
		return &MismatchError{
			Phase:    h.phase,
			Tool:     string(h.tool),
			Expected: h.baseline.SessionID,
			Actual:   extracted,
		}
	}

	rec := *h.baseline
	rec.Status = state.SessionActive
	rec.LastUsedAt = now
	return m.store.PutSession(rec)
}

// Abort releases the handle without validation, for calls that never
// reached the tool.
func (h *Handle) Abort() {
	if h.done {
		return
	}
	h.release()
}

func (h *Handle) release() {
	h.done = true
	if h.held {
		key := sessionPairKey(h.phase, string(h.tool))
		h.m.mu.Lock()
		delete(h.m.inflight, key)
		h.m.mu.Unlock()
		h.held = false
	}
}

// extract pulls the session id the call used, preferring the protocol
// event over the directory diff.
func (h *Handle) extract(res *adapter.Result) (id, source string, err error) {
	if res.SessionID != "" {
		return res.SessionID, state.SourceProtocolEvent, nil
	}
	if h.probe.IDSource != state.SourceStateDirDiff {
		return "", "", nil
	}
	if h.dirSnapshot == nil {
		return "", "", fmt.Errorf("%w: no pre-stage snapshot", ErrAmbiguousExtraction)
	}

	caps, err := h.m.prober.Capabilities(h.tool)
	if err != nil {
		return "", "", err
	}
	after, err := h.m.listDir(caps.StateDir)
	if err != nil {
		return "", "", fmt.Errorf("%w: listing %s: %v", ErrAmbiguousExtraction, caps.StateDir, err)
	}

	var fresh []string
	for _, name := range after {
		if !h.dirSnapshot[name] {
			fresh = append(fresh, name)
		}
	}
	if len(fresh) != 1 {
		return "", "", fmt.Errorf("%w: %d new entries in %s", ErrAmbiguousExtraction, len(fresh), caps.StateDir)
	}
	return fresh[0], state.SourceStateDirDiff, nil
}

func (m *Manager) snapshotStateDir(tool plan.Tool) (map[string]bool, error) {
	caps, err := m.prober.Capabilities(tool)
	if err != nil {
		return nil, err
	}
	if caps.StateDir == "" {
		return nil, nil
	}
	names, err := m.listDir(caps.StateDir)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]bool, len(names))
	for _, n := range names {
		snap[n] = true
	}
	return snap, nil
}

func listDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func confidenceFor(source string) string {
	if source == state.SourceProtocolEvent {
		return state.ConfidenceHigh
	}
	return state.ConfidenceMedium
}

func sessionPairKey(phase, tool string) string {
	return phase + "/" + tool
}
