package phase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPhasedManager(t *testing.T) (*StateManager, string) {
	t.Helper()
	dir := t.TempDir()
	m := NewStateManager(dir, DefaultStateManagerOptions())
	gen := newTestGenerator().GeneratePhases("Build a full-stack app with React frontend, Express backend, and Postgres database", nil)
	m.InitializeFromGeneration("task-1", "full-stack app", gen)
	return m, dir
}

func TestStateManager_InitializePersistsImmediately(t *testing.T) {
	m, dir := newPhasedManager(t)

	_, err := os.Stat(filepath.Join(dir, DefaultStateFileName))
	require.NoError(t, err)
	assert.True(t, m.Exists())

	state := m.State()
	assert.Equal(t, ModePhased, state.ExecutionMode)
	assert.Equal(t, OverallInProgress, state.OverallStatus)
	assert.Equal(t, 0, state.CurrentPhaseIndex)
	assert.Equal(t, StrategyLayerBased, state.StrategyUsed)
}

func TestStateManager_SaveLoadRoundTrip(t *testing.T) {
	m, dir := newPhasedManager(t)
	require.NoError(t, m.MarkPhaseStarted())
	require.NoError(t, m.MarkPhaseComplete(Result{
		Status:             ResultCompleted,
		UserApproved:       true,
		VerificationPassed: true,
		FilesCreated:       []string{"schema.sql"},
		TokenUsage:         1200,
		Summary:            "schema done",
	}))
	require.NoError(t, m.Save())

	original := m.State()

	fresh := NewStateManager(dir, DefaultStateManagerOptions())
	loaded, err := fresh.Load()
	require.NoError(t, err)

	assert.Equal(t, original, loaded)
}

func TestStateManager_LoadWithoutFile(t *testing.T) {
	m := NewStateManager(t.TempDir(), DefaultStateManagerOptions())

	state, err := m.Load()

	assert.Nil(t, state)
	assert.ErrorIs(t, err, ErrNoState)
}

func TestStateManager_LoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultStateFileName), []byte("{not json"), 0600))

	state, err := NewStateManager(dir, DefaultStateManagerOptions()).Load()

	assert.Nil(t, state)
	assert.Error(t, err)
}

func TestStateManager_CompletionRequiresApproval(t *testing.T) {
	m, _ := newPhasedManager(t)
	require.NoError(t, m.MarkPhaseStarted())

	require.NoError(t, m.MarkPhaseComplete(Result{Status: ResultCompleted, UserApproved: false}))
	state := m.State()
	assert.Equal(t, 0, state.CurrentPhaseIndex)
	assert.Equal(t, StatusInProgress, state.Phases[0].Status)
	assert.Len(t, state.PhaseResults, 1)

	require.NoError(t, m.MarkPhaseComplete(Result{Status: ResultCompleted, UserApproved: true}))
	state = m.State()
	assert.Equal(t, 1, state.CurrentPhaseIndex)
	assert.Equal(t, StatusCompleted, state.Phases[0].Status)
	assert.Len(t, state.PhaseResults, 2)
	assert.Equal(t, "phase-1", state.PhaseResults[1].PhaseID)
}

func TestStateManager_FailureIsStickyButDoesNotAdvance(t *testing.T) {
	m, _ := newPhasedManager(t)
	require.NoError(t, m.MarkPhaseStarted())

	require.NoError(t, m.MarkPhaseComplete(Result{Status: ResultFailed, ErrorMessage: "migrations broke"}))
	state := m.State()
	assert.Equal(t, 0, state.CurrentPhaseIndex)
	assert.Equal(t, StatusFailed, state.Phases[0].Status)
	assert.Equal(t, OverallFailed, state.OverallStatus)

	// A retry that succeeds advances, but the mission keeps its failed flag.
	require.NoError(t, m.MarkPhaseComplete(Result{Status: ResultCompleted, UserApproved: true}))
	state = m.State()
	assert.Equal(t, 1, state.CurrentPhaseIndex)
	assert.Equal(t, OverallFailed, state.OverallStatus)
}

func TestStateManager_SkipAlwaysAdvancesAndCompletes(t *testing.T) {
	m, _ := newPhasedManager(t)
	total := len(m.State().Phases)

	for i := 0; i < total; i++ {
		require.NoError(t, m.SkipCurrentPhase("not needed"))
	}

	state := m.State()
	assert.Equal(t, total, state.CurrentPhaseIndex)
	assert.Equal(t, OverallCompleted, state.OverallStatus)
	assert.NotNil(t, state.CompletedAt)
	for _, p := range state.Phases {
		assert.Equal(t, StatusSkipped, p.Status)
	}
	assert.Nil(t, m.CurrentPhase())

	assert.ErrorIs(t, m.SkipCurrentPhase("again"), ErrNoActivePhase)
	assert.ErrorIs(t, m.MarkPhaseStarted(), ErrNoActivePhase)

	progress := m.Progress()
	assert.Equal(t, total, progress.Completed)
	assert.Equal(t, 100.0, progress.Percent)
}

func TestStateManager_NotInitialized(t *testing.T) {
	m := NewStateManager(t.TempDir(), DefaultStateManagerOptions())

	assert.ErrorIs(t, m.MarkPhaseStarted(), ErrNotInitialized)
	assert.ErrorIs(t, m.MarkPhaseComplete(Result{Status: ResultCompleted}), ErrNotInitialized)
	assert.ErrorIs(t, m.Save(), ErrNotInitialized)
	assert.ErrorIs(t, m.Pause(), ErrNotInitialized)
	assert.Nil(t, m.State())
	assert.Nil(t, m.CurrentPhase())
}

func TestStateManager_SinglePhase(t *testing.T) {
	m := NewStateManager(t.TempDir(), DefaultStateManagerOptions())
	state := m.InitializeSinglePhase("task-2", "Fix typo in README", 5000)

	require.Len(t, state.Phases, 1)
	assert.Equal(t, ModeSingle, state.ExecutionMode)
	assert.Equal(t, "Implementation", state.Phases[0].Name)
	assert.Equal(t, 5000, state.Phases[0].EstimatedTokens)
}

func TestStateManager_PauseResumeReset(t *testing.T) {
	m, _ := newPhasedManager(t)

	require.NoError(t, m.Pause())
	assert.Equal(t, OverallPaused, m.State().OverallStatus)

	require.NoError(t, m.Resume())
	assert.Equal(t, OverallInProgress, m.State().OverallStatus)

	require.NoError(t, m.Reset())
	assert.False(t, m.Exists())
	assert.Nil(t, m.State())
}

func TestStateManager_AutoSaveDisabled(t *testing.T) {
	dir := t.TempDir()
	m := NewStateManager(dir, StateManagerOptions{AutoSave: false})
	m.InitializeSinglePhase("task-3", "x", 100)

	assert.False(t, m.Exists())
	require.NoError(t, m.Save())
	assert.True(t, m.Exists())
}

func TestStateManager_StateIsACopy(t *testing.T) {
	m, _ := newPhasedManager(t)

	state := m.State()
	state.Phases[0].Name = "mutated"
	state.Phases[0].Requirements[0] = "mutated"

	assert.NotEqual(t, "mutated", m.State().Phases[0].Name)
	assert.NotEqual(t, "mutated", m.State().Phases[0].Requirements[0])
}

func TestStateManager_UpdatePhaseAndTokens(t *testing.T) {
	m, _ := newPhasedManager(t)

	require.NoError(t, m.UpdatePhase("phase-2", func(p *Phase) {
		p.Requirements = append(p.Requirements, "extra")
	}))
	assert.Contains(t, m.State().Phases[1].Requirements, "extra")
	assert.ErrorIs(t, m.UpdatePhase("phase-99", func(*Phase) {}), ErrPhaseNotFound)

	require.NoError(t, m.RecordTokenUsage(250))
	assert.Equal(t, 250, m.State().ActualTokensUsed)
	assert.Equal(t, "phase-2", m.NextPhase().ID)
}
