package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.NavigationAttempt("loaded")
	r.NavigationAttempt("error")
	r.NavigationAttempt("error")
	r.NavigationRetry("refresh")
	r.BudgetTransition("warning")
	r.PhaseResult("completed")
	r.AuthPrompt("timeout")
	r.SetBudgetPercent(42.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.NavigationAttempts().WithLabelValues("loaded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.NavigationAttempts().WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.NavigationRetries().WithLabelValues("refresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BudgetTransitions().WithLabelValues("warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PhaseResults().WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.AuthPrompts().WithLabelValues("timeout")))
	assert.Equal(t, 42.5, testutil.ToFloat64(r.BudgetPercent()))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.NavigationAttempt("loaded")
		r.NavigationRetry("refresh")
		r.SetBudgetPercent(10)
		r.BudgetTransition("warning")
		r.PhaseResult("failed")
		r.AuthPrompt("completed")
	})
	assert.Nil(t, r.Registry())
}

func TestRecorder_Snapshot(t *testing.T) {
	r := NewRecorder()
	r.PhaseResult("skipped")
	r.NavigationRetry("refresh")
	r.NavigationRetry("refresh")
	r.SetBudgetPercent(12.5)

	samples, err := r.Snapshot()
	require.NoError(t, err)

	var lines []string
	for _, s := range samples {
		lines = append(lines, s.String())
	}
	assert.Equal(t, []string{
		"phaseguard_budget_percent_used 12.5",
		`phaseguard_navigation_retries_total{strategy="refresh"} 2`,
		`phaseguard_phase_results_total{status="skipped"} 1`,
	}, lines)

	var nilRecorder *Recorder
	samples, err = nilRecorder.Snapshot()
	assert.NoError(t, err)
	assert.Empty(t, samples)
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.PhaseResult("skipped")
	path := filepath.Join(t.TempDir(), "phaseguard.prom")

	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `phaseguard_phase_results_total{status="skipped"} 1`))
	assert.Contains(t, string(data), "# TYPE phaseguard_phase_results_total counter")
}
