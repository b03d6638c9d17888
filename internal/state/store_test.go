package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "task-1", 10)
	require.NoError(t, err)
	return s
}

func TestOpen_CreatesLayout(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "my-task", 25)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(root, "my-task", "markers"))
	assert.DirExists(t, filepath.Join(root, "my-task", "out"))
	assert.DirExists(t, filepath.Join(root, "my-task", "review"))
	assert.FileExists(t, filepath.Join(root, "my-task", "state.json"))

	snap := s.Snapshot()
	assert.Equal(t, "my-task", snap.Task)
	assert.Equal(t, 25, snap.Stats.PaidCallBudget)
	assert.Equal(t, 0, snap.Stats.PaidCallsUsed)
}

func TestOpen_InvalidTaskNames(t *testing.T) {
	root := t.TempDir()

	for _, name := range []string{"", "..", "a/../b", "a/b", `a\b`, "-leading"} {
		_, err := Open(root, name, 10)
		assert.Error(t, err, "name %q should be rejected", name)
	}
}

func TestOpen_ReloadPreservesUsedRefreshesBudget(t *testing.T) {
	root := t.TempDir()

	s, err := Open(root, "task-1", 10)
	require.NoError(t, err)
	_, err = s.ReservePaidCall()
	require.NoError(t, err)

	reopened, err := Open(root, "task-1", 99)
	require.NoError(t, err)

	snap := reopened.Snapshot()
	assert.Equal(t, 1, snap.Stats.PaidCallsUsed)
	assert.Equal(t, 99, snap.Stats.PaidCallBudget)
}

func TestOpen_CorruptState(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "task-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{not json"), 0o644))

	_, err := Open(root, "task-1", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStateCorrupted)
}

func TestReservePaidCall_IncrementsAndFailsClosed(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "task-1", 2)
	require.NoError(t, err)

	used, err := s.ReservePaidCall()
	require.NoError(t, err)
	assert.Equal(t, 1, used)

	used, err = s.ReservePaidCall()
	require.NoError(t, err)
	assert.Equal(t, 2, used)

	used, err = s.ReservePaidCall()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 2, used, "failed reservation must not increment")
}

func TestRecordStage_SupersedesAttempts(t *testing.T) {
	s := newTestStore(t)

	attempt, err := s.RecordStageStart("codex_implement", "codex", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)
	require.NoError(t, s.RecordStageEnd("codex_implement", 1, StageFailed))

	attempt, err = s.RecordStageStart("codex_implement", "codex", "hash-2")
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
	require.NoError(t, s.RecordStageEnd("codex_implement", 0, StageDone))

	snap := s.Snapshot()
	run := snap.Stages["codex_implement"]
	require.NotNil(t, run)
	assert.Equal(t, 2, run.Attempt)
	assert.Equal(t, StageDone, run.Status)
	assert.Equal(t, 0, run.ExitCode)
	assert.Equal(t, "hash-2", run.RequestHash)
	assert.False(t, run.StartedAt.IsZero())
	assert.False(t, run.EndedAt.IsZero())
}

func TestRecordStageEnd_UnknownStage(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.RecordStageEnd("ghost", 0, StageDone))
}

func TestRecordSignature_Accumulates(t *testing.T) {
	s := newTestStore(t)

	sig, err := s.RecordSignature("transient", "transient:abc123")
	require.NoError(t, err)
	assert.Equal(t, 1, sig.Count)
	assert.Equal(t, "transient", sig.Class)
	assert.False(t, sig.FirstSeen.IsZero())

	sig, err = s.RecordSignature("transient", "transient:abc123")
	require.NoError(t, err)
	assert.Equal(t, 2, sig.Count)

	assert.Equal(t, 2, s.SignatureCount("transient:abc123"))
	assert.Equal(t, 0, s.SignatureCount("transient:unseen"))
}

func TestSession_Roundtrip(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.Session("impl", "codex")
	assert.False(t, ok)

	rec := SessionRecord{
		Phase:      "impl",
		Tool:       "codex",
		SessionID:  "S1",
		Source:     SourceProtocolEvent,
		Confidence: ConfidenceHigh,
		Status:     SessionBaseline,
	}
	require.NoError(t, s.PutSession(rec))

	got, ok := s.Session("impl", "codex")
	require.True(t, ok)
	assert.Equal(t, "S1", got.SessionID)
	assert.Equal(t, SessionBaseline, got.Status)

	// Returned record is a copy
	got.SessionID = "mutated"
	again, _ := s.Session("impl", "codex")
	assert.Equal(t, "S1", again.SessionID)
}

func TestProbe_Roundtrip(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.Probe("impl", "gemini")
	assert.False(t, ok)

	require.NoError(t, s.PutProbe(CapabilityProbe{
		Phase:           "impl",
		Tool:            "gemini",
		ResumeSupported: true,
		IDSource:        SourceStateDirDiff,
	}))

	got, ok := s.Probe("impl", "gemini")
	require.True(t, ok)
	assert.True(t, got.ResumeSupported)
	assert.Equal(t, SourceStateDirDiff, got.IDSource)
}

func TestDoneMarkers(t *testing.T) {
	s := newTestStore(t)

	assert.False(t, s.IsStageDone("codex_verify"))
	require.NoError(t, s.MarkStageDone("codex_verify"))
	assert.True(t, s.IsStageDone("codex_verify"))
	assert.FileExists(t, s.MarkerPath("codex_verify"))

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Stats.StagesDone)
}

func TestArtifacts_Roundtrip(t *testing.T) {
	s := newTestStore(t)

	got, err := s.ReadArtifact("codex_brief")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.WriteArtifact("codex_brief", []byte("# Brief\n")))
	got, err = s.ReadArtifact("codex_brief")
	require.NoError(t, err)
	assert.Equal(t, "# Brief\n", string(got))
}

func TestLastFailure_Roundtrip(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.ReadLastFailure()
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.WriteLastFailure(&LastFailure{
		StageID:          "codex_verify",
		Tool:             "codex",
		Class:            "session_mismatch",
		ExitCode:         0,
		SuggestedActions: []string{"inspect session state"},
		Recovery: &RecoveryRecord{
			Phase:             "impl",
			Tool:              "codex",
			ExpectedSessionID: "S1",
			ActualSessionID:   "S2",
			ManualSteps:       []string{"clear the baseline", "re-run the stage"},
		},
	}))

	rec, err = s.ReadLastFailure()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "task-1", rec.Task)
	assert.Equal(t, "session_mismatch", rec.Class)
	require.NotNil(t, rec.Recovery)
	assert.Equal(t, "S1", rec.Recovery.ExpectedSessionID)
	assert.Equal(t, "S2", rec.Recovery.ActualSessionID)
	assert.False(t, rec.OccurredAt.IsZero())
}

func TestWriteLastFailure_Overwrites(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteLastFailure(&LastFailure{StageID: "a", Class: "transient"}))
	require.NoError(t, s.WriteLastFailure(&LastFailure{StageID: "b", Class: "auth"}))

	rec, err := s.ReadLastFailure()
	require.NoError(t, err)
	assert.Equal(t, "b", rec.StageID)
	assert.Equal(t, "auth", rec.Class)
}

func TestSnapshot_DeepCopy(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RecordStageStart("codex_brief", "codex", "")
	require.NoError(t, err)

	snap := s.Snapshot()
	snap.Stages["codex_brief"].Status = "mutated"

	again := s.Snapshot()
	assert.Equal(t, StageRunning, again.Stages["codex_brief"].Status)
}

func TestWriteAtomic_NoTempLeftover(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteSummary([]byte("summary")))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
