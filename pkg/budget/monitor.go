package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/phaseguard/pkg/logging"
	"github.com/entrhq/phaseguard/pkg/metrics"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("budget")
	if err != nil {
		debugLog.Warnf("Failed to initialize budget logger, using stderr fallback: %v", err)
	}
}

// MonitorConfig holds the budget ceiling and status thresholds. Thresholds
// are fractions of the total budget.
type MonitorConfig struct {
	TotalBudget        int     `yaml:"total_budget" json:"total_budget"`
	WarningThreshold   float64 `yaml:"warning_threshold" json:"warning_threshold"`
	CriticalThreshold  float64 `yaml:"critical_threshold" json:"critical_threshold"`
	ExhaustedThreshold float64 `yaml:"exhausted_threshold" json:"exhausted_threshold"`
	WrapUpReserve      int     `yaml:"wrap_up_reserve" json:"wrap_up_reserve"`
}

// DefaultMonitorConfig uses 70% / 90% / 100% thresholds.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		TotalBudget:        100000,
		WarningThreshold:   0.70,
		CriticalThreshold:  0.90,
		ExhaustedThreshold: 1.0,
		WrapUpReserve:      5000,
	}
}

// Monitor tracks token usage for one phase at a time. All methods are safe
// for concurrent use. Listeners run after the lock is released, one
// notification at a time and in the order the changes happened; a listener
// may call back into the monitor.
type Monitor struct {
	mu        sync.Mutex
	config    MonitorConfig
	total     int
	used      int
	events    []UsageEvent
	status    Status
	phaseID   string
	estimator Estimator
	recorder  *metrics.Recorder
	now       func() time.Time

	statusListeners []func(StatusChange)
	updateListeners []func(Budget)

	// pending notifications, drained by whichever goroutine set delivering.
	pending    []notification
	delivering bool
}

// notification is one usage change waiting to reach listeners.
type notification struct {
	snapshot        Budget
	change          *StatusChange
	recorder        *metrics.Recorder
	statusListeners []func(StatusChange)
	updateListeners []func(Budget)
}

func (n notification) deliver() {
	n.recorder.SetBudgetPercent(n.snapshot.PercentUsed)
	if n.change != nil {
		debugLog.Infof("Budget status %s -> %s at %.1f%% (%d/%d)", n.change.From, n.change.To, n.snapshot.PercentUsed, n.snapshot.Used, n.snapshot.Total)
		n.recorder.BudgetTransition(string(n.change.To))
		for _, fn := range n.statusListeners {
			fn(*n.change)
		}
	}
	for _, fn := range n.updateListeners {
		fn(n.snapshot)
	}
}

// NewMonitor creates a monitor. A nil estimator uses the heuristic one.
func NewMonitor(config MonitorConfig, estimator Estimator) *Monitor {
	defaults := DefaultMonitorConfig()
	if config.TotalBudget <= 0 {
		config.TotalBudget = defaults.TotalBudget
	}
	if config.WarningThreshold <= 0 {
		config.WarningThreshold = defaults.WarningThreshold
	}
	if config.CriticalThreshold <= 0 {
		config.CriticalThreshold = defaults.CriticalThreshold
	}
	if config.ExhaustedThreshold <= 0 {
		config.ExhaustedThreshold = defaults.ExhaustedThreshold
	}
	if config.WrapUpReserve < 0 {
		config.WrapUpReserve = 0
	}
	if estimator == nil {
		estimator = NewHeuristicEstimator()
	}
	return &Monitor{
		config:    config,
		total:     config.TotalBudget,
		status:    StatusHealthy,
		estimator: estimator,
		now:       time.Now,
	}
}

// SetRecorder attaches a metrics recorder. Nil disables metrics.
func (m *Monitor) SetRecorder(r *metrics.Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

// OnStatusChange registers a listener called once per status transition.
func (m *Monitor) OnStatusChange(fn func(StatusChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusListeners = append(m.statusListeners, fn)
}

// OnUpdate registers a listener called after every usage change.
func (m *Monitor) OnUpdate(fn func(Budget)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateListeners = append(m.updateListeners, fn)
}

// TrackUsage appends an event and returns the new budget snapshot.
// Negative token counts are recorded as zero.
func (m *Monitor) TrackUsage(event UsageEvent) Budget {
	if event.Tokens < 0 {
		debugLog.Warnf("Ignoring negative token count %d for %s", event.Tokens, event.Type)
		event.Tokens = 0
	}

	m.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}
	if event.PhaseID == "" {
		event.PhaseID = m.phaseID
	}
	m.events = append(m.events, event)
	m.used += event.Tokens

	snapshot := m.budgetLocked()
	m.enqueueLocked(snapshot, m.transitionLocked(snapshot))
	m.deliverAndUnlock()
	return snapshot
}

// TrackText estimates the tokens in text and tracks them.
func (m *Monitor) TrackText(eventType EventType, text, description string) Budget {
	return m.TrackUsage(UsageEvent{
		Type:        eventType,
		Tokens:      m.EstimateTokens(text),
		Description: description,
	})
}

// EstimateTokens estimates text with the configured estimator.
func (m *Monitor) EstimateTokens(text string) int {
	m.mu.Lock()
	est := m.estimator
	m.mu.Unlock()
	return est.EstimateTokens(text)
}

// Budget returns the current snapshot.
func (m *Monitor) Budget() Budget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budgetLocked()
}

// CanAfford reports whether an operation of the estimated size still leaves
// the wrap-up reserve intact. It is an admission check, not a hard block.
func (m *Monitor) CanAfford(estimatedTokens int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ceiling := int(float64(m.total)*m.config.ExhaustedThreshold) - m.config.WrapUpReserve
	return m.used+estimatedTokens <= ceiling
}

// Reset clears the usage log and counters for a new phase. A newBudget of
// zero keeps the current total. Reset does not fire a status change; the
// new phase simply starts healthy.
func (m *Monitor) Reset(newBudget int, phaseID string) {
	m.mu.Lock()
	if newBudget > 0 {
		m.total = newBudget
	}
	m.used = 0
	m.events = nil
	m.phaseID = phaseID
	snapshot := m.budgetLocked()
	m.status = snapshot.Status
	m.enqueueLocked(snapshot, nil)
	debugLog.Debugf("Budget reset to %d tokens for phase %q", snapshot.Total, phaseID)
	m.deliverAndUnlock()
}

// PhaseID returns the phase the monitor is currently armed for.
func (m *Monitor) PhaseID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phaseID
}

// Events returns a copy of the usage log.
func (m *Monitor) Events() []UsageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UsageEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Breakdown sums tracked tokens per event type.
func (m *Monitor) Breakdown() map[EventType]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[EventType]int)
	for _, e := range m.events {
		out[e.Type] += e.Tokens
	}
	return out
}

// Recommendations returns suggestions for the current status.
func (m *Monitor) Recommendations() []string {
	b := m.Budget()
	switch b.Status {
	case StatusWarning:
		return []string{
			fmt.Sprintf("%.0f%% of the phase budget is used; start wrapping up the current task", b.PercentUsed),
			"Avoid reading large files in full; search for the relevant sections instead",
		}
	case StatusCritical:
		return []string{
			fmt.Sprintf("Only %d tokens remain; finish the current step and checkpoint", b.Remaining),
			"Summarize progress so the next phase can pick up from it",
			"Defer non-essential verification to the next phase",
		}
	case StatusExhausted:
		return []string{
			"The phase budget is exhausted; stop and request approval to continue",
			"Record what remains unfinished in the phase summary",
		}
	default:
		return []string{}
	}
}

func (m *Monitor) budgetLocked() Budget {
	fraction, percent := 0.0, 0.0
	if m.total > 0 {
		fraction = float64(m.used) / float64(m.total)
		percent = float64(m.used) * 100 / float64(m.total)
	}
	status := m.statusFor(fraction)
	remaining := m.total - m.used
	if remaining < 0 {
		remaining = 0
	}
	return Budget{
		Total:             m.total,
		Used:              m.used,
		Remaining:         remaining,
		PercentUsed:       percent,
		Status:            status,
		RecommendedAction: actionFor(status),
	}
}

func (m *Monitor) statusFor(fraction float64) Status {
	switch {
	case fraction >= m.config.ExhaustedThreshold:
		return StatusExhausted
	case fraction >= m.config.CriticalThreshold:
		return StatusCritical
	case fraction >= m.config.WarningThreshold:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

func (m *Monitor) transitionLocked(b Budget) *StatusChange {
	if b.Status == m.status {
		return nil
	}
	change := &StatusChange{From: m.status, To: b.Status, Budget: b, PhaseID: m.phaseID}
	m.status = b.Status
	return change
}

func (m *Monitor) listenersLocked() ([]func(StatusChange), []func(Budget)) {
	s := make([]func(StatusChange), len(m.statusListeners))
	copy(s, m.statusListeners)
	u := make([]func(Budget), len(m.updateListeners))
	copy(u, m.updateListeners)
	return s, u
}

func (m *Monitor) enqueueLocked(snapshot Budget, change *StatusChange) {
	statusListeners, updateListeners := m.listenersLocked()
	m.pending = append(m.pending, notification{
		snapshot:        snapshot,
		change:          change,
		recorder:        m.recorder,
		statusListeners: statusListeners,
		updateListeners: updateListeners,
	})
}

// deliverAndUnlock must be called with mu held. If another goroutine is
// already delivering, it picks up the queued notification and this call
// returns at once; otherwise this goroutine drains the queue.
func (m *Monitor) deliverAndUnlock() {
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.pending) > 0 {
		n := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		n.deliver()
		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

func actionFor(s Status) Action {
	switch s {
	case StatusWarning:
		return ActionWrapUp
	case StatusCritical:
		return ActionCheckpoint
	case StatusExhausted:
		return ActionStop
	default:
		return ActionContinue
	}
}
