package phase

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultStateFileName is the file a mission's state is written to.
const DefaultStateFileName = "phase-state.json"

// Sentinel errors for state operations.
var (
	ErrNotInitialized = errors.New("phase: mission state not initialized")
	ErrNoActivePhase  = errors.New("phase: no active phase")
	ErrNoState        = errors.New("phase: no saved state")
	ErrPhaseNotFound  = errors.New("phase: phase not found")
)

// StateManagerOptions configures a StateManager.
type StateManagerOptions struct {
	FileName string
	AutoSave bool
}

// DefaultStateManagerOptions saves to phase-state.json after every mutation.
func DefaultStateManagerOptions() StateManagerOptions {
	return StateManagerOptions{
		FileName: DefaultStateFileName,
		AutoSave: true,
	}
}

// StateManager owns the ExecutionState of exactly one mission folder.
// There must be no other writer for the same folder.
type StateManager struct {
	mu       sync.Mutex
	dir      string
	path     string
	autoSave bool
	state    *ExecutionState
	now      func() time.Time
}

// NewStateManager binds a manager to a mission folder. Nothing is read or
// written until Initialize* or Load is called.
func NewStateManager(missionDir string, opts StateManagerOptions) *StateManager {
	if opts.FileName == "" {
		opts.FileName = DefaultStateFileName
	}
	return &StateManager{
		dir:      missionDir,
		path:     filepath.Join(missionDir, opts.FileName),
		autoSave: opts.AutoSave,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the state file location.
func (m *StateManager) Path() string {
	return m.path
}

// InitializeFromGeneration starts a phased mission from a generation result
// and persists it immediately.
func (m *StateManager) InitializeFromGeneration(taskID, requirement string, gen *GenerationResult) *ExecutionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	phases := clonePhases(gen.Phases)
	for i := range phases {
		phases[i].Status = StatusPending
	}

	m.state = &ExecutionState{
		TaskID:               taskID,
		OriginalRequirement:  requirement,
		Phases:               phases,
		CurrentPhaseIndex:    0,
		PhaseResults:         []Result{},
		ExecutionMode:        ModePhased,
		StrategyUsed:         gen.StrategyUsed,
		EstimatedTotalTokens: gen.TotalEstimatedTokens,
		StartedAt:            now,
		UpdatedAt:            now,
		OverallStatus:        OverallInProgress,
	}
	debugLog.Infof("Initialized phased mission %s with %d phases", taskID, len(phases))
	m.persistLocked()
	return cloneState(m.state)
}

// InitializeSinglePhase starts a mission that runs as one implementation
// phase and persists it immediately.
func (m *StateManager) InitializeSinglePhase(taskID, requirement string, estimatedTokens int) *ExecutionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	p := genericPhase(requirement, estimatedTokens)
	p.Dependencies = []string{}
	p.VerificationCriteria = []string{"Requirement implemented and verified"}

	m.state = &ExecutionState{
		TaskID:               taskID,
		OriginalRequirement:  requirement,
		Phases:               []Phase{p},
		CurrentPhaseIndex:    0,
		PhaseResults:         []Result{},
		ExecutionMode:        ModeSingle,
		EstimatedTotalTokens: estimatedTokens,
		StartedAt:            now,
		UpdatedAt:            now,
		OverallStatus:        OverallInProgress,
	}
	debugLog.Infof("Initialized single-phase mission %s", taskID)
	m.persistLocked()
	return cloneState(m.state)
}

// State returns a copy of the current state, or nil before initialization.
func (m *StateManager) State() *ExecutionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	return cloneState(m.state)
}

// CurrentPhase returns a copy of the phase at the current index, or nil
// when the mission is complete or not initialized.
func (m *StateManager) CurrentPhase() *Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phaseAtLocked(0)
}

// NextPhase returns a copy of the phase after the current one, if any.
func (m *StateManager) NextPhase() *Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phaseAtLocked(1)
}

func (m *StateManager) phaseAtLocked(offset int) *Phase {
	if m.state == nil {
		return nil
	}
	idx := m.state.CurrentPhaseIndex + offset
	if idx < 0 || idx >= len(m.state.Phases) {
		return nil
	}
	p := clonePhase(m.state.Phases[idx])
	return &p
}

// MarkPhaseStarted flips the current phase to in-progress. The index does
// not move.
func (m *StateManager) MarkPhaseStarted() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.currentLocked()
	if err != nil {
		return err
	}
	current.Status = StatusInProgress
	if m.state.OverallStatus == OverallPaused {
		m.state.OverallStatus = OverallInProgress
	}
	m.touchLocked()
	debugLog.Infof("Phase %s started", current.ID)
	m.persistLocked()
	return nil
}

// MarkPhaseComplete records a phase outcome. The result is always appended.
// The current index advances only for an approved completed (or skipped)
// result. A failed result marks the mission failed, and that stays even if
// later phases complete.
func (m *StateManager) MarkPhaseComplete(result Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.currentLocked()
	if err != nil {
		return err
	}

	if result.PhaseID == "" {
		result.PhaseID = current.ID
	}
	if result.CompletedAt.IsZero() {
		result.CompletedAt = m.now()
	}
	if result.FilesCreated == nil {
		result.FilesCreated = []string{}
	}
	if result.FilesModified == nil {
		result.FilesModified = []string{}
	}
	m.state.PhaseResults = append(m.state.PhaseResults, result)
	m.state.ActualTokensUsed += result.TokenUsage

	advance := result.UserApproved && (result.Status == ResultCompleted || result.Status == ResultSkipped)

	switch {
	case result.Status == ResultFailed:
		current.Status = StatusFailed
		m.state.OverallStatus = OverallFailed
	case advance && result.Status == ResultSkipped:
		current.Status = StatusSkipped
	case advance:
		current.Status = StatusCompleted
	default:
		current.Status = StatusInProgress
	}

	if advance {
		m.state.CurrentPhaseIndex++
		if m.state.IsComplete() {
			now := m.now()
			m.state.CompletedAt = &now
			if m.state.OverallStatus != OverallFailed {
				m.state.OverallStatus = OverallCompleted
			}
		}
	}

	m.touchLocked()
	debugLog.Infof("Phase %s result=%s approved=%t advanced=%t index=%d/%d",
		result.PhaseID, result.Status, result.UserApproved, advance, m.state.CurrentPhaseIndex, len(m.state.Phases))
	m.persistLocked()
	return nil
}

// SkipCurrentPhase records a skipped, approved result. Skipping always advances.
func (m *StateManager) SkipCurrentPhase(reason string) error {
	return m.MarkPhaseComplete(Result{
		Status:       ResultSkipped,
		UserApproved: true,
		Summary:      reason,
	})
}

// RecordTokenUsage adds tokens to the mission's actual usage counter.
func (m *StateManager) RecordTokenUsage(tokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return ErrNotInitialized
	}
	m.state.ActualTokensUsed += tokens
	m.touchLocked()
	m.persistLocked()
	return nil
}

// UpdatePhase applies fn to the phase with the given id.
func (m *StateManager) UpdatePhase(id string, fn func(*Phase)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return ErrNotInitialized
	}
	for i := range m.state.Phases {
		if m.state.Phases[i].ID == id {
			fn(&m.state.Phases[i])
			m.touchLocked()
			m.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPhaseNotFound, id)
}

// Pause marks the mission paused. The state stays resumable.
func (m *StateManager) Pause() error {
	return m.setOverall(OverallPaused)
}

// Resume moves a paused mission back to in-progress.
func (m *StateManager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return ErrNotInitialized
	}
	if m.state.OverallStatus == OverallPaused {
		m.state.OverallStatus = OverallInProgress
		m.touchLocked()
		m.persistLocked()
	}
	return nil
}

func (m *StateManager) setOverall(status OverallStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return ErrNotInitialized
	}
	m.state.OverallStatus = status
	m.touchLocked()
	m.persistLocked()
	return nil
}

// Progress reports completed and skipped phases against the total.
func (m *StateManager) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil || len(m.state.Phases) == 0 {
		return Progress{}
	}
	done := 0
	for _, p := range m.state.Phases {
		if p.Status.IsTerminal() {
			done++
		}
	}
	total := len(m.state.Phases)
	return Progress{
		Completed: done,
		Total:     total,
		Percent:   float64(done) / float64(total) * 100,
	}
}

// Save writes the state to disk through a temp file and rename.
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

// Load reads the state file and replaces the in-memory state wholesale.
// It returns ErrNoState when the mission folder has no state file.
func (m *StateManager) Load() (*ExecutionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoState
		}
		debugLog.Errorf("Failed to read state file %s: %v", m.path, err)
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state ExecutionState
	if err := json.Unmarshal(data, &state); err != nil {
		debugLog.Errorf("Failed to parse state file %s: %v", m.path, err)
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	m.state = &state
	debugLog.Infof("Loaded mission %s at phase index %d", state.TaskID, state.CurrentPhaseIndex)
	return cloneState(m.state), nil
}

// Exists reports whether a state file is present.
func (m *StateManager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Reset deletes the state file and forgets the in-memory state.
func (m *StateManager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = nil
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		debugLog.Errorf("Failed to remove state file %s: %v", m.path, err)
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

func (m *StateManager) currentLocked() (*Phase, error) {
	if m.state == nil {
		return nil, ErrNotInitialized
	}
	if m.state.IsComplete() {
		return nil, ErrNoActivePhase
	}
	return &m.state.Phases[m.state.CurrentPhaseIndex], nil
}

func (m *StateManager) touchLocked() {
	m.state.UpdatedAt = m.now()
}

// persistLocked saves when auto-save is on. Failures are logged and the
// in-memory state is kept.
func (m *StateManager) persistLocked() {
	if !m.autoSave {
		return
	}
	if err := m.saveLocked(); err != nil {
		debugLog.Errorf("Auto-save failed: %v", err)
	}
}

func (m *StateManager) saveLocked() error {
	if m.state == nil {
		return ErrNotInitialized
	}
	if err := os.MkdirAll(m.dir, 0750); err != nil {
		return fmt.Errorf("failed to create mission directory: %w", err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

func cloneState(s *ExecutionState) *ExecutionState {
	out := *s
	out.Phases = clonePhases(s.Phases)
	if s.PhaseResults != nil {
		out.PhaseResults = make([]Result, len(s.PhaseResults))
		for i, r := range s.PhaseResults {
			r.FilesCreated = cloneStrings(r.FilesCreated)
			r.FilesModified = cloneStrings(r.FilesModified)
			out.PhaseResults[i] = r
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func clonePhases(phases []Phase) []Phase {
	if phases == nil {
		return nil
	}
	out := make([]Phase, len(phases))
	for i, p := range phases {
		out[i] = clonePhase(p)
	}
	return out
}

func clonePhase(p Phase) Phase {
	p.Requirements = cloneStrings(p.Requirements)
	p.Deliverables = cloneStrings(p.Deliverables)
	p.VerificationCriteria = cloneStrings(p.VerificationCriteria)
	p.Dependencies = cloneStrings(p.Dependencies)
	p.Domains = cloneStrings(p.Domains)
	p.RiskFactors = cloneStrings(p.RiskFactors)
	return p
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
