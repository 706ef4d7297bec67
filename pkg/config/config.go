// Package config loads phaseguard settings from <workspace>/.phaseguard/config.yaml
// with PHASEGUARD_ environment overrides, and converts each section into
// the owning package's configuration type.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/entrhq/phaseguard/pkg/browser"
	"github.com/entrhq/phaseguard/pkg/budget"
	"github.com/entrhq/phaseguard/pkg/mission"
	"github.com/entrhq/phaseguard/pkg/phase"
)

// EnvPrefix prefixes environment overrides, e.g. PHASEGUARD_EXECUTOR_AUTO_APPROVE.
const EnvPrefix = "PHASEGUARD"

// Estimator names accepted by ContextConfig.Estimator.
const (
	EstimatorHeuristic = "heuristic"
	EstimatorTiktoken  = "tiktoken"
)

// Config is the full phaseguard configuration.
type Config struct {
	Phase    PhaseConfig    `mapstructure:"phase" yaml:"phase"`
	Context  ContextConfig  `mapstructure:"context" yaml:"context"`
	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// PhaseConfig controls phase generation.
type PhaseConfig struct {
	MaxTokensPerPhase    int    `mapstructure:"max_tokens_per_phase" yaml:"max_tokens_per_phase"`
	MaxFeaturesPerPhase  int    `mapstructure:"max_features_per_phase" yaml:"max_features_per_phase"`
	GenerateVerification bool   `mapstructure:"generate_verification" yaml:"generate_verification"`
	PreferredStrategy    string `mapstructure:"preferred_strategy" yaml:"preferred_strategy,omitempty"`
}

// ContextConfig controls the per-phase token budget.
type ContextConfig struct {
	TotalBudget        int     `mapstructure:"total_budget" yaml:"total_budget"`
	WarningThreshold   float64 `mapstructure:"warning_threshold" yaml:"warning_threshold"`
	CriticalThreshold  float64 `mapstructure:"critical_threshold" yaml:"critical_threshold"`
	ExhaustedThreshold float64 `mapstructure:"exhausted_threshold" yaml:"exhausted_threshold"`
	WrapUpReserve      int     `mapstructure:"wrap_up_reserve" yaml:"wrap_up_reserve"`
	Estimator          string  `mapstructure:"estimator" yaml:"estimator"`
	Encoding           string  `mapstructure:"encoding" yaml:"encoding"`
}

// ExecutorConfig controls mission orchestration.
type ExecutorConfig struct {
	PhasedExecutionThreshold int    `mapstructure:"phased_execution_threshold" yaml:"phased_execution_threshold"`
	AutoApprove              bool   `mapstructure:"auto_approve" yaml:"auto_approve"`
	RequireApproval          bool   `mapstructure:"require_approval" yaml:"require_approval"`
	StateFileName            string `mapstructure:"state_file_name" yaml:"state_file_name"`
}

// BrowserConfig controls the browser and navigation validation.
type BrowserConfig struct {
	Headless            bool          `mapstructure:"headless" yaml:"headless"`
	ViewportWidth       int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight      int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
	WaitForSelectors    []string      `mapstructure:"wait_for_selectors" yaml:"wait_for_selectors,omitempty"`
	SelectorTimeout     time.Duration `mapstructure:"selector_timeout" yaml:"selector_timeout"`
	NetworkQuietPeriod  time.Duration `mapstructure:"network_quiet_period" yaml:"network_quiet_period"`
	JSIdleTimeout       time.Duration `mapstructure:"js_idle_timeout" yaml:"js_idle_timeout"`
	MaxRetries          int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialDelay        time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	BackoffMultiplier   float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	RetryStrategies     []string      `mapstructure:"retry_strategies" yaml:"retry_strategies"`
	ScreenshotOnFailure bool          `mapstructure:"screenshot_on_failure" yaml:"screenshot_on_failure"`
	ScreenshotDir       string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir,omitempty"`
}

// SessionConfig controls login handling and session persistence.
type SessionConfig struct {
	Dir              string        `mapstructure:"dir" yaml:"dir,omitempty"`
	SSODomains       []string      `mapstructure:"sso_domains" yaml:"sso_domains"`
	AuthTimeout      time.Duration `mapstructure:"auth_timeout" yaml:"auth_timeout"`
	RedirectSettle   time.Duration `mapstructure:"redirect_settle" yaml:"redirect_settle"`
	AuthPollTimeout  time.Duration `mapstructure:"auth_poll_timeout" yaml:"auth_poll_timeout"`
	AuthPollInterval time.Duration `mapstructure:"auth_poll_interval" yaml:"auth_poll_interval"`
	RestoreSessions  bool          `mapstructure:"restore_sessions" yaml:"restore_sessions"`
	AutoSaveSessions bool          `mapstructure:"auto_save_sessions" yaml:"auto_save_sessions"`
}

// LoggingConfig controls where log files go.
type LoggingConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
}

// DefaultConfig returns a config with every default filled in.
func DefaultConfig() *Config {
	gen := phase.DefaultGeneratorConfig()
	mon := budget.DefaultMonitorConfig()
	exe := mission.DefaultExecutorConfig()
	val := browser.DefaultValidatorConfig()
	auto := browser.DefaultAutomationConfig()

	strategies := make([]string, 0, len(val.Retry.Strategies))
	for _, s := range val.Retry.Strategies {
		strategies = append(strategies, string(s))
	}

	return &Config{
		Phase: PhaseConfig{
			MaxTokensPerPhase:    gen.MaxTokensPerPhase,
			MaxFeaturesPerPhase:  gen.MaxFeaturesPerPhase,
			GenerateVerification: gen.GenerateVerification,
		},
		Context: ContextConfig{
			TotalBudget:        mon.TotalBudget,
			WarningThreshold:   mon.WarningThreshold,
			CriticalThreshold:  mon.CriticalThreshold,
			ExhaustedThreshold: mon.ExhaustedThreshold,
			WrapUpReserve:      mon.WrapUpReserve,
			Estimator:          EstimatorHeuristic,
			Encoding:           "cl100k_base",
		},
		Executor: ExecutorConfig{
			PhasedExecutionThreshold: exe.PhasedExecutionThreshold,
			AutoApprove:              exe.AutoApprove,
			RequireApproval:          !exe.SkipApproval,
			StateFileName:            exe.StateFileName,
		},
		Browser: BrowserConfig{
			Headless:           true,
			ViewportWidth:      browser.DefaultViewportWidth,
			ViewportHeight:     browser.DefaultViewportHeight,
			Timeout:            val.Timeout,
			SelectorTimeout:    val.SelectorTimeout,
			NetworkQuietPeriod: val.NetworkQuietPeriod,
			JSIdleTimeout:      val.JSIdleTimeout,
			MaxRetries:         val.Retry.MaxRetries,
			InitialDelay:       val.Retry.InitialDelay,
			MaxDelay:           val.Retry.MaxDelay,
			BackoffMultiplier:  val.Retry.BackoffMultiplier,
			RetryStrategies:    strategies,
		},
		Session: SessionConfig{
			SSODomains:       append([]string(nil), browser.DefaultSSODomains...),
			AuthTimeout:      browser.DefaultAuthTimeout,
			RedirectSettle:   auto.RedirectSettle,
			AuthPollTimeout:  auto.AuthPollTimeout,
			AuthPollInterval: auto.AuthPollInterval,
			RestoreSessions:  auto.RestoreSessions,
			AutoSaveSessions: auto.AutoSaveSessions,
		},
	}
}

// Dir returns the .phaseguard directory of a workspace.
func Dir(workspaceDir string) string {
	return filepath.Join(workspaceDir, ".phaseguard")
}

// Path returns the config file path of a workspace.
func Path(workspaceDir string) string {
	return filepath.Join(Dir(workspaceDir), "config.yaml")
}

// Load reads the workspace config. A missing file yields the defaults,
// still subject to environment overrides.
func Load(workspaceDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := Path(workspaceDir)
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides apply even
// when the file omits a key.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("phase.max_tokens_per_phase", d.Phase.MaxTokensPerPhase)
	v.SetDefault("phase.max_features_per_phase", d.Phase.MaxFeaturesPerPhase)
	v.SetDefault("phase.generate_verification", d.Phase.GenerateVerification)
	v.SetDefault("phase.preferred_strategy", d.Phase.PreferredStrategy)

	v.SetDefault("context.total_budget", d.Context.TotalBudget)
	v.SetDefault("context.warning_threshold", d.Context.WarningThreshold)
	v.SetDefault("context.critical_threshold", d.Context.CriticalThreshold)
	v.SetDefault("context.exhausted_threshold", d.Context.ExhaustedThreshold)
	v.SetDefault("context.wrap_up_reserve", d.Context.WrapUpReserve)
	v.SetDefault("context.estimator", d.Context.Estimator)
	v.SetDefault("context.encoding", d.Context.Encoding)

	v.SetDefault("executor.phased_execution_threshold", d.Executor.PhasedExecutionThreshold)
	v.SetDefault("executor.auto_approve", d.Executor.AutoApprove)
	v.SetDefault("executor.require_approval", d.Executor.RequireApproval)
	v.SetDefault("executor.state_file_name", d.Executor.StateFileName)

	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.viewport_width", d.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", d.Browser.ViewportHeight)
	v.SetDefault("browser.timeout", d.Browser.Timeout)
	v.SetDefault("browser.wait_for_selectors", d.Browser.WaitForSelectors)
	v.SetDefault("browser.selector_timeout", d.Browser.SelectorTimeout)
	v.SetDefault("browser.network_quiet_period", d.Browser.NetworkQuietPeriod)
	v.SetDefault("browser.js_idle_timeout", d.Browser.JSIdleTimeout)
	v.SetDefault("browser.max_retries", d.Browser.MaxRetries)
	v.SetDefault("browser.initial_delay", d.Browser.InitialDelay)
	v.SetDefault("browser.max_delay", d.Browser.MaxDelay)
	v.SetDefault("browser.backoff_multiplier", d.Browser.BackoffMultiplier)
	v.SetDefault("browser.retry_strategies", d.Browser.RetryStrategies)
	v.SetDefault("browser.screenshot_on_failure", d.Browser.ScreenshotOnFailure)
	v.SetDefault("browser.screenshot_dir", d.Browser.ScreenshotDir)

	v.SetDefault("session.dir", d.Session.Dir)
	v.SetDefault("session.sso_domains", d.Session.SSODomains)
	v.SetDefault("session.auth_timeout", d.Session.AuthTimeout)
	v.SetDefault("session.redirect_settle", d.Session.RedirectSettle)
	v.SetDefault("session.auth_poll_timeout", d.Session.AuthPollTimeout)
	v.SetDefault("session.auth_poll_interval", d.Session.AuthPollInterval)
	v.SetDefault("session.restore_sessions", d.Session.RestoreSessions)
	v.SetDefault("session.auto_save_sessions", d.Session.AutoSaveSessions)

	v.SetDefault("logging.dir", d.Logging.Dir)
}

// applyDefaults fills zero values a file may have set explicitly.
func applyDefaults(cfg *Config) {
	d := DefaultConfig()

	if cfg.Phase.MaxTokensPerPhase <= 0 {
		cfg.Phase.MaxTokensPerPhase = d.Phase.MaxTokensPerPhase
	}
	if cfg.Phase.MaxFeaturesPerPhase <= 0 {
		cfg.Phase.MaxFeaturesPerPhase = d.Phase.MaxFeaturesPerPhase
	}
	if cfg.Context.TotalBudget <= 0 {
		cfg.Context.TotalBudget = d.Context.TotalBudget
	}
	if cfg.Context.Estimator == "" {
		cfg.Context.Estimator = d.Context.Estimator
	}
	if cfg.Executor.PhasedExecutionThreshold <= 0 {
		cfg.Executor.PhasedExecutionThreshold = d.Executor.PhasedExecutionThreshold
	}
	if cfg.Executor.StateFileName == "" {
		cfg.Executor.StateFileName = d.Executor.StateFileName
	}
	if cfg.Browser.ViewportWidth <= 0 || cfg.Browser.ViewportHeight <= 0 {
		cfg.Browser.ViewportWidth = d.Browser.ViewportWidth
		cfg.Browser.ViewportHeight = d.Browser.ViewportHeight
	}
	if len(cfg.Browser.WaitForSelectors) == 0 {
		cfg.Browser.WaitForSelectors = nil
	}
	if len(cfg.Browser.RetryStrategies) == 0 {
		cfg.Browser.RetryStrategies = d.Browser.RetryStrategies
	}
	if len(cfg.Session.SSODomains) == 0 {
		cfg.Session.SSODomains = d.Session.SSODomains
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string

	if s := c.Phase.PreferredStrategy; s != "" && !phase.Strategy(s).IsValid() {
		problems = append(problems, fmt.Sprintf("phase.preferred_strategy %q is not one of feature-based, layer-based, incremental", s))
	}

	ctx := c.Context
	if !(0 < ctx.WarningThreshold && ctx.WarningThreshold < ctx.CriticalThreshold && ctx.CriticalThreshold <= ctx.ExhaustedThreshold) {
		problems = append(problems, fmt.Sprintf("context thresholds must satisfy 0 < warning < critical <= exhausted (got %.2f, %.2f, %.2f)",
			ctx.WarningThreshold, ctx.CriticalThreshold, ctx.ExhaustedThreshold))
	}
	if ctx.WrapUpReserve < 0 || ctx.WrapUpReserve >= ctx.TotalBudget {
		problems = append(problems, "context.wrap_up_reserve must be between 0 and total_budget")
	}
	if ctx.Estimator != EstimatorHeuristic && ctx.Estimator != EstimatorTiktoken {
		problems = append(problems, fmt.Sprintf("context.estimator %q is not one of heuristic, tiktoken", ctx.Estimator))
	}

	if t := c.Executor.PhasedExecutionThreshold; t > 100 {
		problems = append(problems, fmt.Sprintf("executor.phased_execution_threshold %d is above 100", t))
	}

	b := c.Browser
	if b.MaxRetries < 0 {
		problems = append(problems, "browser.max_retries must not be negative")
	}
	if b.BackoffMultiplier < 1 {
		problems = append(problems, "browser.backoff_multiplier must be at least 1")
	}
	for _, s := range b.RetryStrategies {
		if !validStrategy(browser.RetryStrategy(s)) {
			problems = append(problems, fmt.Sprintf("browser.retry_strategies: unknown strategy %q", s))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validStrategy(s browser.RetryStrategy) bool {
	for _, known := range browser.DefaultRetryStrategies {
		if s == known {
			return true
		}
	}
	return false
}

// GeneratorConfig converts the phase section.
func (c *Config) GeneratorConfig() phase.GeneratorConfig {
	return phase.GeneratorConfig{
		MaxTokensPerPhase:    c.Phase.MaxTokensPerPhase,
		MaxFeaturesPerPhase:  c.Phase.MaxFeaturesPerPhase,
		GenerateVerification: c.Phase.GenerateVerification,
		PreferredStrategy:    phase.Strategy(c.Phase.PreferredStrategy),
	}
}

// MonitorConfig converts the context section.
func (c *Config) MonitorConfig() budget.MonitorConfig {
	return budget.MonitorConfig{
		TotalBudget:        c.Context.TotalBudget,
		WarningThreshold:   c.Context.WarningThreshold,
		CriticalThreshold:  c.Context.CriticalThreshold,
		ExhaustedThreshold: c.Context.ExhaustedThreshold,
		WrapUpReserve:      c.Context.WrapUpReserve,
	}
}

// Estimator builds the configured token estimator. A tiktoken encoding
// that cannot be loaded falls back to the heuristic with a warning.
func (c *Config) Estimator() budget.Estimator {
	if c.Context.Estimator == EstimatorTiktoken {
		enc, err := budget.NewTiktokenEstimator(c.Context.Encoding)
		if err == nil {
			return enc
		}
		debugLog.Warnf("Falling back to heuristic token estimator: %v", err)
	}
	return budget.NewHeuristicEstimator()
}

// ExecutorConfig converts the executor section.
func (c *Config) ExecutorConfig() mission.ExecutorConfig {
	return mission.ExecutorConfig{
		PhasedExecutionThreshold: c.Executor.PhasedExecutionThreshold,
		AutoApprove:              c.Executor.AutoApprove,
		SkipApproval:             !c.Executor.RequireApproval,
		StateFileName:            c.Executor.StateFileName,
	}
}

// ValidatorConfig converts the browser section's navigation settings.
func (c *Config) ValidatorConfig() browser.ValidatorConfig {
	b := c.Browser
	strategies := make([]browser.RetryStrategy, 0, len(b.RetryStrategies))
	for _, s := range b.RetryStrategies {
		strategies = append(strategies, browser.RetryStrategy(s))
	}
	// The file always carries a value, so zero here means no retries.
	maxRetries := b.MaxRetries
	if maxRetries == 0 {
		maxRetries = browser.NoRetries
	}
	return browser.ValidatorConfig{
		Timeout:            b.Timeout,
		WaitForSelectors:   b.WaitForSelectors,
		SelectorTimeout:    b.SelectorTimeout,
		NetworkQuietPeriod: b.NetworkQuietPeriod,
		JSIdleTimeout:      b.JSIdleTimeout,
		Retry: browser.RetryConfig{
			MaxRetries:        maxRetries,
			InitialDelay:      b.InitialDelay,
			MaxDelay:          b.MaxDelay,
			BackoffMultiplier: b.BackoffMultiplier,
			Strategies:        strategies,
		},
		ScreenshotOnFailure: b.ScreenshotOnFailure,
		ScreenshotDir:       b.ScreenshotDir,
	}
}

// DriverOptions converts the browser section's launch settings.
func (c *Config) DriverOptions() browser.DriverOptions {
	return browser.DriverOptions{
		Headless: c.Browser.Headless,
		Viewport: browser.Viewport{Width: c.Browser.ViewportWidth, Height: c.Browser.ViewportHeight},
		Timeout:  c.Browser.Timeout,
	}
}

// AutomationConfig converts the session section's login settings.
func (c *Config) AutomationConfig() browser.AutomationConfig {
	return browser.AutomationConfig{
		RedirectSettle:   c.Session.RedirectSettle,
		AuthPollTimeout:  c.Session.AuthPollTimeout,
		AuthPollInterval: c.Session.AuthPollInterval,
		RestoreSessions:  c.Session.RestoreSessions,
		AutoSaveSessions: c.Session.AutoSaveSessions,
	}
}
