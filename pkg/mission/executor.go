// Package mission orchestrates a phased mission: it decides between single
// and phased execution, walks the phases in order, re-arms the token budget
// at every phase boundary and holds each phase at an approval gate until a
// reviewer answers.
package mission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/phaseguard/pkg/budget"
	"github.com/entrhq/phaseguard/pkg/complexity"
	"github.com/entrhq/phaseguard/pkg/logging"
	"github.com/entrhq/phaseguard/pkg/metrics"
	"github.com/entrhq/phaseguard/pkg/phase"
	"github.com/entrhq/phaseguard/pkg/types"
	"github.com/google/uuid"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("mission")
	if err != nil {
		debugLog.Warnf("Failed to initialize mission logger, using stderr fallback: %v", err)
	}
}

var (
	// ErrNotInitialized is returned when no mission folder has been bound.
	ErrNotInitialized = errors.New("mission: executor not initialized")
	// ErrNoActivePhase is returned when every phase has been passed.
	ErrNoActivePhase = phase.ErrNoActivePhase
	// ErrApprovalPending is returned while a phase waits at the approval gate.
	ErrApprovalPending = errors.New("mission: an approval is already pending")
	// ErrNoAnalysis is returned by StartPhasedExecution without an analysis.
	ErrNoAnalysis = errors.New("mission: no requirement analysis")
)

// ExecutorConfig controls mode selection and the approval gate.
type ExecutorConfig struct {
	// PhasedExecutionThreshold is the complexity score at or above which a
	// mission runs in phases.
	PhasedExecutionThreshold int    `yaml:"phased_execution_threshold" json:"phased_execution_threshold"`
	AutoApprove              bool   `yaml:"auto_approve" json:"auto_approve"`
	// SkipApproval turns the review gate off. The zero value keeps it on.
	SkipApproval             bool   `yaml:"skip_approval" json:"skip_approval"`
	StateFileName            string `yaml:"state_file_name" json:"state_file_name"`
}

// DefaultExecutorConfig requires a reviewer between phases.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		PhasedExecutionThreshold: 60,
		AutoApprove:              false,
		SkipApproval:             false,
		StateFileName:            phase.DefaultStateFileName,
	}
}

// Deps are the collaborators of an Executor. Nil fields get defaults.
type Deps struct {
	Analyzer  complexity.Scorer
	Generator *phase.Generator
	Monitor   *budget.Monitor
	Recorder  *metrics.Recorder
}

// Analysis is the outcome of AnalyzeRequirement.
type Analysis struct {
	Requirement     string                  `json:"requirement"`
	Complexity      complexity.Score        `json:"complexity"`
	RecommendedMode phase.ExecutionMode     `json:"recommendedMode"`
	Rationale       string                  `json:"rationale"`
	Generation      *phase.GenerationResult `json:"generation,omitempty"`
}

// Completion is what the agent reports when it believes a phase is done.
type Completion struct {
	Summary             string
	FilesCreated        []string
	FilesModified       []string
	VerificationResults []string
	// Failed records the phase as failed and bypasses the approval gate.
	Failed       bool
	ErrorMessage string
}

type pendingApproval struct {
	request  types.ApprovalRequest
	response chan types.ApprovalResponse
}

// Executor drives one mission at a time. Phases never run concurrently:
// BeginPhaseExecution and SkipCurrentPhase are refused while an approval
// is pending.
type Executor struct {
	config    ExecutorConfig
	analyzer  complexity.Scorer
	generator *phase.Generator
	monitor   *budget.Monitor
	recorder  *metrics.Recorder
	events    publisher

	mu       sync.Mutex
	state    *phase.StateManager
	pending  *pendingApproval
	analysis *Analysis
	// tokens of the current phase already attributed to a recorded result
	reported int
	now      func() time.Time
}

// NewExecutor wires an executor. Initialize must be called before a
// mission can start.
func NewExecutor(config ExecutorConfig, deps Deps) *Executor {
	if config.PhasedExecutionThreshold <= 0 {
		config.PhasedExecutionThreshold = DefaultExecutorConfig().PhasedExecutionThreshold
	}
	if config.StateFileName == "" {
		config.StateFileName = phase.DefaultStateFileName
	}
	if deps.Analyzer == nil {
		deps.Analyzer = complexity.NewAnalyzer()
	}
	if deps.Generator == nil {
		deps.Generator = phase.NewGenerator(phase.DefaultGeneratorConfig(), deps.Analyzer)
	}
	if deps.Monitor == nil {
		deps.Monitor = budget.NewMonitor(budget.DefaultMonitorConfig(), nil)
	}
	deps.Monitor.SetRecorder(deps.Recorder)

	e := &Executor{
		config:    config,
		analyzer:  deps.Analyzer,
		generator: deps.Generator,
		monitor:   deps.Monitor,
		recorder:  deps.Recorder,
		now:       func() time.Time { return time.Now().UTC() },
	}

	e.monitor.OnStatusChange(func(change budget.StatusChange) {
		e.publish(types.NewBudgetStatusChangedEvent(change))
	})
	e.monitor.OnUpdate(func(b budget.Budget) {
		e.publish(types.NewBudgetUpdateEvent(b))
	})
	return e
}

// Initialize binds the executor to a mission folder. Existing state in the
// folder is not loaded; use ResumeMission for that.
func (e *Executor) Initialize(missionDir string) error {
	if strings.TrimSpace(missionDir) == "" {
		return errors.New("mission: directory is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		return ErrApprovalPending
	}
	e.state = phase.NewStateManager(missionDir, phase.StateManagerOptions{
		FileName: e.config.StateFileName,
		AutoSave: true,
	})
	e.analysis = nil
	e.reported = 0
	debugLog.Infof("Executor bound to mission folder %s", missionDir)
	return nil
}

// Subscribe registers a handler for every mission event. The returned
// function removes it.
func (e *Executor) Subscribe(handler Handler) func() {
	return e.events.subscribe(handler)
}

// AnalyzeRequirement scores the requirement and decides the execution
// mode. Phases are generated only for phased missions. A mode decided
// event is always published.
func (e *Executor) AnalyzeRequirement(requirement string) *Analysis {
	score := e.analyzer.Analyze(requirement)
	mode, rationale := e.decideMode(score)

	analysis := &Analysis{
		Requirement:     requirement,
		Complexity:      score,
		RecommendedMode: mode,
		Rationale:       rationale,
	}
	if mode == phase.ModePhased {
		analysis.Generation = e.generator.GeneratePhases(requirement, &score)
	}

	e.mu.Lock()
	e.analysis = analysis
	e.mu.Unlock()

	debugLog.Infof("Requirement scored %d (%s), mode=%s", score.Score, score.Level, mode)
	e.publish(types.NewModeDecidedEvent(mode, score, rationale))
	return analysis
}

func (e *Executor) decideMode(score complexity.Score) (phase.ExecutionMode, string) {
	switch {
	case score.Score >= e.config.PhasedExecutionThreshold:
		return phase.ModePhased, fmt.Sprintf("complexity score %d is at or above the phased threshold %d", score.Score, e.config.PhasedExecutionThreshold)
	case score.Recommendation == complexity.RecommendSplitPhases:
		return phase.ModePhased, "analysis recommends splitting the work into phases"
	case score.Recommendation == complexity.RecommendRequireClarification:
		return phase.ModePhased, "requirement is broad enough to need clarification; phases keep each step reviewable"
	default:
		return phase.ModeSingle, fmt.Sprintf("complexity score %d fits in a single pass", score.Score)
	}
}

// StartPhasedExecution creates the mission state from an analysis and arms
// the budget for the first phase. A nil analysis uses the most recent one.
func (e *Executor) StartPhasedExecution(analysis *Analysis) (*phase.ExecutionState, error) {
	sm, err := e.idleStateManager()
	if err != nil {
		return nil, err
	}

	if analysis == nil {
		e.mu.Lock()
		analysis = e.analysis
		e.mu.Unlock()
	}
	if analysis == nil {
		return nil, ErrNoAnalysis
	}

	gen := analysis.Generation
	if gen == nil {
		score := analysis.Complexity
		gen = e.generator.GeneratePhases(analysis.Requirement, &score)
	}

	state := sm.InitializeFromGeneration(uuid.New().String(), analysis.Requirement, gen)
	e.rearm(&state.Phases[0])
	return state, nil
}

// StartSingleExecution creates a one-phase mission for the requirement.
func (e *Executor) StartSingleExecution(requirement string) (*phase.ExecutionState, error) {
	sm, err := e.idleStateManager()
	if err != nil {
		return nil, err
	}

	score := e.analyzer.Analyze(requirement)
	state := sm.InitializeSinglePhase(uuid.New().String(), requirement, score.EstimatedTokens)
	e.rearm(&state.Phases[0])
	return state, nil
}

// BeginPhaseExecution marks the current phase started and re-arms its
// budget. Calling it twice for the same phase is harmless.
func (e *Executor) BeginPhaseExecution() (*phase.Phase, error) {
	sm, err := e.idleStateManager()
	if err != nil {
		return nil, err
	}
	if err := sm.MarkPhaseStarted(); err != nil {
		return nil, err
	}

	current := sm.CurrentPhase()
	if current == nil {
		return nil, ErrNoActivePhase
	}
	e.rearm(current)
	e.publish(types.NewPhaseStartedEvent(*current, sm.Progress()))
	return current, nil
}

// CompletePhase submits the current phase for review and blocks until the
// approval settles, the context is cancelled or the mission is aborted.
//
// With AutoApprove or SkipApproval set, the phase is approved
// immediately. A failed completion is recorded without review.
func (e *Executor) CompletePhase(ctx context.Context, c Completion) (*types.ApprovalResponse, error) {
	e.mu.Lock()
	sm := e.state
	if sm == nil {
		e.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if e.pending != nil {
		e.mu.Unlock()
		return nil, ErrApprovalPending
	}
	current := sm.CurrentPhase()
	if current == nil {
		e.mu.Unlock()
		if sm.State() == nil {
			return nil, phase.ErrNotInitialized
		}
		return nil, ErrNoActivePhase
	}

	b := e.monitor.Budget()
	tokens := b.Used - e.reported
	if tokens < 0 {
		tokens = 0
	}
	e.reported = b.Used

	req := types.ApprovalRequest{
		ID:                  uuid.New().String(),
		PhaseID:             current.ID,
		PhaseName:           current.Name,
		Summary:             c.Summary,
		FilesCreated:        nonNil(c.FilesCreated),
		FilesModified:       nonNil(c.FilesModified),
		VerificationResults: nonNil(c.VerificationResults),
		VerificationPassed:  VerificationPassed(c.VerificationResults),
		Budget:              b,
		NextPhase:           sm.NextPhase(),
		Progress:            sm.Progress(),
		RequestedAt:         e.now(),
	}

	if c.Failed {
		e.mu.Unlock()
		return e.recordFailure(sm, *current, c, req, tokens)
	}

	if e.config.AutoApprove || e.config.SkipApproval {
		e.mu.Unlock()
		debugLog.Infof("Auto-approving phase %s", current.ID)
		return e.settle(sm, *current, c, req, tokens, types.ApprovalResponse{Approved: true, AutoApproved: true})
	}

	p := &pendingApproval{request: req, response: make(chan types.ApprovalResponse, 1)}
	e.pending = p
	e.mu.Unlock()

	debugLog.Infof("Phase %s awaiting approval (request %s)", current.ID, req.ID)
	e.publish(types.NewApprovalNeededEvent(req))

	select {
	case resp := <-p.response:
		return e.settle(sm, *current, c, req, tokens, resp)
	case <-ctx.Done():
		e.mu.Lock()
		if e.pending == p {
			e.pending = nil
		}
		e.reported -= tokens
		e.mu.Unlock()

		// ProvideApproval may have won the race and already reported success.
		select {
		case resp := <-p.response:
			e.mu.Lock()
			e.reported += tokens
			e.mu.Unlock()
			return e.settle(sm, *current, c, req, tokens, resp)
		default:
		}
		debugLog.Warnf("Approval for phase %s abandoned: %v", current.ID, ctx.Err())
		return nil, ctx.Err()
	}
}

// ProvideApproval settles the pending approval. It returns false, and does
// nothing else, when no approval is pending. An abort response aborts the
// mission.
func (e *Executor) ProvideApproval(resp types.ApprovalResponse) bool {
	if resp.Abort {
		e.mu.Lock()
		has := e.pending != nil
		e.mu.Unlock()
		if !has {
			debugLog.Warnf("Abort response received with no approval pending")
			return false
		}
		if err := e.AbortMission(resp.Feedback); err != nil {
			debugLog.Errorf("Failed to abort mission: %v", err)
		}
		return true
	}

	e.mu.Lock()
	p := e.pending
	e.pending = nil
	e.mu.Unlock()

	if p == nil {
		debugLog.Warnf("Approval response received with no approval pending")
		return false
	}
	p.response <- resp
	return true
}

// PendingApproval returns the request waiting for review, if any.
func (e *Executor) PendingApproval() *types.ApprovalRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	req := e.pending.request
	return &req
}

// SkipCurrentPhase records the current phase as skipped and moves on.
func (e *Executor) SkipCurrentPhase(reason string) error {
	sm, err := e.idleStateManager()
	if err != nil {
		return err
	}
	current := sm.CurrentPhase()
	if err := sm.SkipCurrentPhase(reason); err != nil {
		return err
	}
	state := sm.State()
	result := state.PhaseResults[len(state.PhaseResults)-1]
	e.afterResult(sm, *current, result)
	return nil
}

// AbortMission settles any pending approval as an aborting rejection and
// pauses the mission. Nothing is deleted; the mission can be resumed.
func (e *Executor) AbortMission(reason string) error {
	e.mu.Lock()
	sm := e.state
	p := e.pending
	e.pending = nil
	e.mu.Unlock()

	if sm == nil {
		return ErrNotInitialized
	}
	if p != nil {
		p.response <- types.ApprovalResponse{Approved: false, Abort: true, Feedback: reason}
	}
	if err := sm.Pause(); err != nil {
		return err
	}

	debugLog.Infof("Mission aborted: %s", reason)
	e.publish(types.NewMissionAbortedEvent(reason))
	return nil
}

// ResumeMission continues a paused mission, loading it from the mission
// folder when the executor has no state in memory. It returns false when
// there is nothing to resume.
func (e *Executor) ResumeMission() (bool, error) {
	sm, err := e.idleStateManager()
	if err != nil {
		return false, err
	}

	state := sm.State()
	if state == nil {
		loaded, err := sm.Load()
		if errors.Is(err, phase.ErrNoState) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		state = loaded
	}
	if state.IsComplete() {
		return false, nil
	}
	if err := sm.Resume(); err != nil {
		return false, err
	}

	e.rearm(sm.CurrentPhase())
	debugLog.Infof("Mission %s resumed at phase %d/%d", state.TaskID, state.CurrentPhaseIndex+1, len(state.Phases))
	return true, nil
}

// TrackUsage forwards a usage event to the budget monitor.
func (e *Executor) TrackUsage(event budget.UsageEvent) budget.Budget {
	return e.monitor.TrackUsage(event)
}

// Budget returns the current phase budget.
func (e *Executor) Budget() budget.Budget {
	return e.monitor.Budget()
}

// Monitor exposes the budget monitor for callers that track raw text.
func (e *Executor) Monitor() *budget.Monitor {
	return e.monitor
}

// State returns a copy of the mission state, or nil.
func (e *Executor) State() *phase.ExecutionState {
	e.mu.Lock()
	sm := e.state
	e.mu.Unlock()
	if sm == nil {
		return nil
	}
	return sm.State()
}

// Progress returns the mission progress.
func (e *Executor) Progress() phase.Progress {
	e.mu.Lock()
	sm := e.state
	e.mu.Unlock()
	if sm == nil {
		return phase.Progress{}
	}
	return sm.Progress()
}

func (e *Executor) settle(sm *phase.StateManager, current phase.Phase, c Completion, req types.ApprovalRequest, tokens int, resp types.ApprovalResponse) (*types.ApprovalResponse, error) {
	result := phase.Result{
		PhaseID:            current.ID,
		Status:             phase.ResultCompleted,
		FilesCreated:       req.FilesCreated,
		FilesModified:      req.FilesModified,
		VerificationPassed: req.VerificationPassed,
		UserApproved:       resp.Approved,
		TokenUsage:         tokens,
		Summary:            c.Summary,
	}

	if !resp.Approved {
		result.Status = phase.ResultPartial
		if !resp.Abort && strings.TrimSpace(resp.Feedback) != "" {
			feedback := "Reviewer feedback: " + strings.TrimSpace(resp.Feedback)
			if err := sm.UpdatePhase(current.ID, func(p *phase.Phase) {
				p.Requirements = append(p.Requirements, feedback)
			}); err != nil {
				debugLog.Warnf("Failed to attach feedback to %s: %v", current.ID, err)
			}
		}
	} else if len(resp.NextPhaseRequirements) > 0 && req.NextPhase != nil {
		reqs := append([]string(nil), resp.NextPhaseRequirements...)
		if err := sm.UpdatePhase(req.NextPhase.ID, func(p *phase.Phase) {
			p.Requirements = reqs
		}); err != nil {
			debugLog.Warnf("Failed to amend %s: %v", req.NextPhase.ID, err)
		}
	}

	if err := sm.MarkPhaseComplete(result); err != nil {
		e.publish(types.NewErrorEvent(err))
		return nil, err
	}
	debugLog.Infof("Phase %s settled approved=%t abort=%t auto=%t", current.ID, resp.Approved, resp.Abort, resp.AutoApproved)

	e.afterResult(sm, current, result, withFeedback(resp.Feedback))
	return &resp, nil
}

func (e *Executor) recordFailure(sm *phase.StateManager, current phase.Phase, c Completion, req types.ApprovalRequest, tokens int) (*types.ApprovalResponse, error) {
	result := phase.Result{
		PhaseID:            current.ID,
		Status:             phase.ResultFailed,
		FilesCreated:       req.FilesCreated,
		FilesModified:      req.FilesModified,
		VerificationPassed: false,
		UserApproved:       false,
		TokenUsage:         tokens,
		ErrorMessage:       c.ErrorMessage,
		Summary:            c.Summary,
	}
	if err := sm.MarkPhaseComplete(result); err != nil {
		e.publish(types.NewErrorEvent(err))
		return nil, err
	}
	debugLog.Warnf("Phase %s failed: %s", current.ID, c.ErrorMessage)

	e.afterResult(sm, current, result)
	return &types.ApprovalResponse{Approved: false, Feedback: c.ErrorMessage}, nil
}

type eventOption func(*types.MissionEvent)

func withFeedback(feedback string) eventOption {
	return func(ev *types.MissionEvent) {
		if feedback != "" {
			ev.WithMetadata("feedback", feedback)
		}
	}
}

// afterResult publishes the completion and, when the index moved, either
// finishes the mission or arms the budget for the next phase.
func (e *Executor) afterResult(sm *phase.StateManager, before phase.Phase, result phase.Result, opts ...eventOption) {
	e.recorder.PhaseResult(string(result.Status))

	state := sm.State()
	updated := before
	for _, p := range state.Phases {
		if p.ID == before.ID {
			updated = p
			break
		}
	}

	progress := sm.Progress()
	ev := types.NewPhaseCompletedEvent(updated, result, progress)
	for _, opt := range opts {
		opt(ev)
	}
	e.publish(ev)

	if state.IsComplete() {
		debugLog.Infof("Mission %s complete (%s)", state.TaskID, state.OverallStatus)
		e.publish(types.NewAllCompleteEvent(progress))
		return
	}
	if next := sm.CurrentPhase(); next != nil && next.ID != before.ID {
		e.rearm(next)
	}
}

// rearm gives p a fresh budget sized to its estimate.
func (e *Executor) rearm(p *phase.Phase) {
	if p == nil {
		return
	}
	e.mu.Lock()
	e.reported = 0
	e.mu.Unlock()
	e.monitor.Reset(p.EstimatedTokens, p.ID)
}

// idleStateManager returns the bound state manager when no approval is
// pending.
func (e *Executor) idleStateManager() (*phase.StateManager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, ErrNotInitialized
	}
	if e.pending != nil {
		return nil, ErrApprovalPending
	}
	return e.state, nil
}

func (e *Executor) publish(event *types.MissionEvent) {
	e.events.publish(event)
}

// VerificationPassed reports whether no verification result mentions a
// failure. The check is a case-insensitive substring match on "fail".
func VerificationPassed(results []string) bool {
	for _, r := range results {
		if strings.Contains(strings.ToLower(r), "fail") {
			return false
		}
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
