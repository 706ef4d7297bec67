// Package metrics exposes prometheus counters for navigation, budget and
// phase activity. A nil *Recorder is valid and records nothing.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "phaseguard"

// Recorder owns a private registry so several recorders can coexist in one
// process (and in tests) without colliding on the default registerer.
type Recorder struct {
	registry *prometheus.Registry

	navigationAttempts *prometheus.CounterVec
	navigationRetries  *prometheus.CounterVec
	budgetPercent      prometheus.Gauge
	budgetTransitions  *prometheus.CounterVec
	phaseResults       *prometheus.CounterVec
	authPrompts        *prometheus.CounterVec
}

// NewRecorder creates a recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		navigationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigation_attempts_total",
			Help:      "Validated navigations by final page load status.",
		}, []string{"status"}),
		navigationRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigation_retries_total",
			Help:      "Retry strategies applied during validated navigation.",
		}, []string{"strategy"}),
		budgetPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_percent_used",
			Help:      "Percent of the current phase budget consumed.",
		}),
		budgetTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_status_transitions_total",
			Help:      "Budget status transitions by new status.",
		}, []string{"status"}),
		phaseResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_results_total",
			Help:      "Recorded phase results by status.",
		}, []string{"status"}),
		authPrompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_prompts_total",
			Help:      "Login prompts shown to the user by outcome.",
		}, []string{"outcome"}),
	}

	r.registry.MustRegister(
		r.navigationAttempts,
		r.navigationRetries,
		r.budgetPercent,
		r.budgetTransitions,
		r.phaseResults,
		r.authPrompts,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Sample is one gathered series.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// String renders the sample as name{k="v"} value.
func (s Sample) String() string {
	if len(s.Labels) == 0 {
		return fmt.Sprintf("%s %g", s.Name, s.Value)
	}
	keys := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%q", k, s.Labels[k])
	}
	return fmt.Sprintf("%s{%s} %g", s.Name, strings.Join(pairs, ","), s.Value)
}

// Snapshot gathers every counter and gauge series recorded so far, in
// registry order. Label combinations never touched are absent.
func (r *Recorder) Snapshot() ([]Sample, error) {
	if r == nil {
		return nil, nil
	}
	families, err := r.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var samples []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			default:
				continue
			}
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			samples = append(samples, Sample{Name: mf.GetName(), Labels: labels, Value: value})
		}
	}
	return samples, nil
}

// WriteTextfile writes the registry in the text exposition format, for
// node_exporter's textfile collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func (r *Recorder) NavigationAttempt(status string) {
	if r == nil {
		return
	}
	r.navigationAttempts.WithLabelValues(status).Inc()
}

func (r *Recorder) NavigationRetry(strategy string) {
	if r == nil {
		return
	}
	r.navigationRetries.WithLabelValues(strategy).Inc()
}

func (r *Recorder) SetBudgetPercent(percent float64) {
	if r == nil {
		return
	}
	r.budgetPercent.Set(percent)
}

func (r *Recorder) BudgetTransition(status string) {
	if r == nil {
		return
	}
	r.budgetTransitions.WithLabelValues(status).Inc()
}

func (r *Recorder) PhaseResult(status string) {
	if r == nil {
		return
	}
	r.phaseResults.WithLabelValues(status).Inc()
}

func (r *Recorder) AuthPrompt(outcome string) {
	if r == nil {
		return
	}
	r.authPrompts.WithLabelValues(outcome).Inc()
}

// Collector accessors.

func (r *Recorder) NavigationAttempts() *prometheus.CounterVec { return r.navigationAttempts }
func (r *Recorder) NavigationRetries() *prometheus.CounterVec  { return r.navigationRetries }
func (r *Recorder) BudgetPercent() prometheus.Gauge            { return r.budgetPercent }
func (r *Recorder) BudgetTransitions() *prometheus.CounterVec  { return r.budgetTransitions }
func (r *Recorder) PhaseResults() *prometheus.CounterVec       { return r.phaseResults }
func (r *Recorder) AuthPrompts() *prometheus.CounterVec        { return r.authPrompts }
