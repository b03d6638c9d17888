package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fyrsmithlabs/stagehand/internal/state"
)

const (
	stateFile       = "state.json"
	lastFailureFile = "last_failure.json"
)

// TaskSnapshot is one read-only view of a task directory. The monitor
// never writes; the orchestrator owns all mutations.
type TaskSnapshot struct {
	State       state.Data
	LastFailure *state.LastFailure
	ReadAt      time.Time
}

// LoadSnapshot reads the task state from dir. A missing state file is an
// error (the task has not started); a missing last-failure file is not.
func LoadSnapshot(dir string) (TaskSnapshot, error) {
	snap := TaskSnapshot{ReadAt: time.Now()}

	raw, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		return snap, fmt.Errorf("reading task state: %w", err)
	}
	if err := json.Unmarshal(raw, &snap.State); err != nil {
		return snap, fmt.Errorf("parsing task state: %w", err)
	}

	if raw, err := os.ReadFile(filepath.Join(dir, lastFailureFile)); err == nil {
		var lf state.LastFailure
		if json.Unmarshal(raw, &lf) == nil {
			snap.LastFailure = &lf
		}
	}
	return snap, nil
}

// StageDurations returns completed stage elapsed times in seconds,
// ordered by start time, for the duration sparkline.
func StageDurations(snap TaskSnapshot) []float64 {
	runs := make([]*state.StageRun, 0, len(snap.State.Stages))
	for _, sr := range snap.State.Stages {
		if !sr.StartedAt.IsZero() && !sr.EndedAt.IsZero() {
			runs = append(runs, sr)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })

	out := make([]float64, len(runs))
	for i, sr := range runs {
		out[i] = sr.EndedAt.Sub(sr.StartedAt).Seconds()
	}
	return out
}

// StagesByStart returns the stage runs ordered by start time, most
// recent last.
func StagesByStart(snap TaskSnapshot) []*state.StageRun {
	runs := make([]*state.StageRun, 0, len(snap.State.Stages))
	for _, sr := range snap.State.Stages {
		runs = append(runs, sr)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StageID < runs[j].StageID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs
}

// newWatcher watches the task directory for state file changes. The
// caller falls back to the refresh tick when watching is unavailable
// (some filesystems do not support inotify).
func newWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: the store commits via rename,
	// which replaces the watched inode.
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}
