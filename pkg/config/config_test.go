package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/phaseguard/pkg/browser"
	"github.com/entrhq/phaseguard/pkg/budget"
	"github.com/entrhq/phaseguard/pkg/phase"
)

func writeConfig(t *testing.T, workspace, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(Dir(workspace), 0750))
	require.NoError(t, os.WriteFile(Path(workspace), []byte(content), 0600))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 60, cfg.Executor.PhasedExecutionThreshold)
	assert.True(t, cfg.Executor.RequireApproval)
	assert.Equal(t, 100000, cfg.Context.TotalBudget)
	assert.Equal(t, 30*time.Second, cfg.Browser.Timeout)
	assert.Equal(t, 3, cfg.Browser.MaxRetries)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `
phase:
  preferred_strategy: layer-based
context:
  total_budget: 40000
  wrap_up_reserve: 2000
executor:
  auto_approve: true
  require_approval: false
browser:
  timeout: 45s
  max_retries: 5
  retry_strategies: [refresh, new-context]
session:
  sso_domains: ["idp.corp.example"]
  auth_poll_timeout: 2m
`)

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, "layer-based", cfg.Phase.PreferredStrategy)
	assert.Equal(t, 40000, cfg.Context.TotalBudget)
	assert.Equal(t, 0.70, cfg.Context.WarningThreshold)
	assert.True(t, cfg.Executor.AutoApprove)
	assert.False(t, cfg.Executor.RequireApproval)
	assert.Equal(t, 45*time.Second, cfg.Browser.Timeout)
	assert.Equal(t, 5, cfg.Browser.MaxRetries)
	assert.Equal(t, []string{"refresh", "new-context"}, cfg.Browser.RetryStrategies)
	assert.Equal(t, []string{"idp.corp.example"}, cfg.Session.SSODomains)
	assert.Equal(t, 2*time.Minute, cfg.Session.AuthPollTimeout)
	// Untouched keys keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Session.RedirectSettle)
	assert.Equal(t, "phase-state.json", cfg.Executor.StateFileName)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PHASEGUARD_EXECUTOR_PHASED_EXECUTION_THRESHOLD", "45")
	t.Setenv("PHASEGUARD_BROWSER_HEADLESS", "false")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 45, cfg.Executor.PhasedExecutionThreshold)
	assert.False(t, cfg.Browser.Headless)
}

func TestLoad_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad yaml", "phase: [", "failed to read config"},
		{"bad strategy", "phase:\n  preferred_strategy: random\n", "preferred_strategy"},
		{"thresholds out of order", "context:\n  warning_threshold: 0.95\n", "thresholds"},
		{"unknown estimator", "context:\n  estimator: magic\n", "estimator"},
		{"unknown retry strategy", "browser:\n  retry_strategies: [reboot]\n", "reboot"},
		{"threshold above 100", "executor:\n  phased_execution_threshold: 150\n", "above 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := t.TempDir()
			writeConfig(t, ws, tt.content)

			_, err := Load(ws)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	ws := t.TempDir()

	path, err := WriteDefault(ws, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, ".phaseguard", "config.yaml"), path)

	_, err = WriteDefault(ws, false)
	assert.ErrorIs(t, err, ErrConfigExists)
	_, err = WriteDefault(ws, true)
	assert.NoError(t, err)

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Phase.PreferredStrategy = "incremental"
	cfg.Browser.RetryStrategies = []string{"clear-cache"}

	gen := cfg.GeneratorConfig()
	assert.Equal(t, phase.StrategyIncremental, gen.PreferredStrategy)
	assert.Equal(t, phase.DefaultGeneratorConfig().MaxTokensPerPhase, gen.MaxTokensPerPhase)

	assert.Equal(t, budget.DefaultMonitorConfig(), cfg.MonitorConfig())

	exe := cfg.ExecutorConfig()
	assert.Equal(t, 60, exe.PhasedExecutionThreshold)
	assert.False(t, exe.SkipApproval)

	val := cfg.ValidatorConfig()
	assert.Equal(t, []browser.RetryStrategy{browser.StrategyClearCache}, val.Retry.Strategies)
	assert.Equal(t, 10*time.Second, val.Retry.MaxDelay)

	assert.Equal(t, 3, val.Retry.MaxRetries)
	cfg.Browser.MaxRetries = 0
	assert.Equal(t, browser.NoRetries, cfg.ValidatorConfig().Retry.MaxRetries)

	auto := cfg.AutomationConfig()
	assert.Equal(t, browser.DefaultAutomationConfig(), auto)

	drv := cfg.DriverOptions()
	assert.True(t, drv.Headless)
	assert.Equal(t, browser.DefaultViewportWidth, drv.Viewport.Width)

	_, ok := cfg.Estimator().(*budget.HeuristicEstimator)
	assert.True(t, ok)
}
