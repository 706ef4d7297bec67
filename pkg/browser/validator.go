package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/entrhq/phaseguard/pkg/metrics"
)

// PageLoadStatus classifies the outcome of a navigation.
type PageLoadStatus string

const (
	StatusLoaded  PageLoadStatus = "loaded"
	StatusError   PageLoadStatus = "error"
	StatusPartial PageLoadStatus = "partial"
	StatusTimeout PageLoadStatus = "timeout"
	StatusBlocked PageLoadStatus = "blocked"
)

// RetryStrategy is a recovery action applied before a retried attempt.
type RetryStrategy string

const (
	StrategyRefresh      RetryStrategy = "refresh"
	StrategyHardRefresh  RetryStrategy = "hard-refresh"
	StrategyClearCache   RetryStrategy = "clear-cache"
	StrategyClearCookies RetryStrategy = "clear-cookies"
	StrategyWaitLonger   RetryStrategy = "wait-longer"
	StrategyNewContext   RetryStrategy = "new-context"
)

// Validation names reported in ValidationResult.Name.
const (
	CheckNoErrorPage     = "no-error-page"
	CheckNoLoading       = "no-loading-indicator"
	CheckHasContent      = "has-content"
	CheckNoConsoleErrors = "no-console-errors"
)

// ErrValidationFailed marks an attempt whose page loaded but did not pass
// every validation.
var ErrValidationFailed = errors.New("validation failed")

// ValidationResult is the outcome of one page check.
type ValidationResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// PageLoadResult is the structured outcome of NavigateWithValidation.
type PageLoadResult struct {
	Success           bool               `json:"success"`
	URL               string             `json:"url"`
	FinalURL          string             `json:"finalUrl"`
	LoadTime          time.Duration      `json:"loadTime"`
	RetryCount        int                `json:"retryCount"`
	Status            PageLoadStatus     `json:"status"`
	Validations       []ValidationResult `json:"validations"`
	Error             string             `json:"error,omitempty"`
	ScreenshotPath    string             `json:"screenshotPath,omitempty"`
	StrategiesApplied []RetryStrategy    `json:"strategiesApplied,omitempty"`
}

// NoRetries disables retrying when set as RetryConfig.MaxRetries. Zero
// means the default of three retries.
const NoRetries = -1

// RetryConfig controls the retry loop.
type RetryConfig struct {
	MaxRetries        int             `yaml:"max_retries" json:"max_retries"`
	InitialDelay      time.Duration   `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay          time.Duration   `yaml:"max_delay" json:"max_delay"`
	BackoffMultiplier float64         `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	Strategies        []RetryStrategy `yaml:"strategies" json:"strategies"`
}

// ValidatorConfig configures a Validator. Zero values take defaults.
type ValidatorConfig struct {
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	WaitForSelectors    []string      `yaml:"wait_for_selectors" json:"wait_for_selectors"`
	SelectorTimeout     time.Duration `yaml:"selector_timeout" json:"selector_timeout"`
	NetworkQuietPeriod  time.Duration `yaml:"network_quiet_period" json:"network_quiet_period"`
	JSIdleTimeout       time.Duration `yaml:"js_idle_timeout" json:"js_idle_timeout"`
	Retry               RetryConfig   `yaml:"retry" json:"retry"`
	ScreenshotOnFailure bool          `yaml:"screenshot_on_failure" json:"screenshot_on_failure"`
	ScreenshotDir       string        `yaml:"screenshot_dir" json:"screenshot_dir"`
	// ErrorPatterns are case-insensitive regular expressions matched
	// against the page title and text.
	ErrorPatterns    []string `yaml:"error_patterns" json:"error_patterns"`
	LoadingSelectors []string `yaml:"loading_selectors" json:"loading_selectors"`
}

// DefaultErrorPatterns are the error page signatures checked by default.
var DefaultErrorPatterns = []string{
	`\b404\b.*not found`,
	`page not found`,
	`\b500\b.*internal server error`,
	`\b502\b.*bad gateway`,
	`\b503\b.*service (temporarily )?unavailable`,
	`\b504\b.*gateway time-?out`,
	`this site can(not|'t|’t) be reached`,
	`err_connection_(refused|reset|timed_out)`,
	`err_name_not_resolved`,
	`access denied`,
	`something went wrong`,
	`application error`,
}

// DefaultLoadingSelectors are indicators that a page is still loading.
var DefaultLoadingSelectors = []string{
	".loading",
	".spinner",
	".loader",
	".skeleton",
	"#loading",
	"[aria-busy=\"true\"]",
}

// DefaultRetryStrategies is the round-robin order of recovery actions.
var DefaultRetryStrategies = []RetryStrategy{
	StrategyRefresh,
	StrategyHardRefresh,
	StrategyClearCache,
	StrategyClearCookies,
	StrategyWaitLonger,
	StrategyNewContext,
}

// DefaultValidatorConfig returns the stock navigation policy.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		Timeout:            30 * time.Second,
		SelectorTimeout:    10 * time.Second,
		NetworkQuietPeriod: 500 * time.Millisecond,
		JSIdleTimeout:      2 * time.Second,
		Retry: RetryConfig{
			MaxRetries:        3,
			InitialDelay:      time.Second,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2,
			Strategies:        append([]RetryStrategy(nil), DefaultRetryStrategies...),
		},
		ErrorPatterns:    append([]string(nil), DefaultErrorPatterns...),
		LoadingSelectors: append([]string(nil), DefaultLoadingSelectors...),
	}
}

func (c *ValidatorConfig) applyDefaults() {
	d := DefaultValidatorConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.SelectorTimeout <= 0 {
		c.SelectorTimeout = d.SelectorTimeout
	}
	if c.NetworkQuietPeriod <= 0 {
		c.NetworkQuietPeriod = d.NetworkQuietPeriod
	}
	if c.JSIdleTimeout <= 0 {
		c.JSIdleTimeout = d.JSIdleTimeout
	}
	switch {
	case c.Retry.MaxRetries == 0:
		c.Retry.MaxRetries = d.Retry.MaxRetries
	case c.Retry.MaxRetries < 0:
		c.Retry.MaxRetries = NoRetries
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = d.Retry.InitialDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if c.Retry.BackoffMultiplier <= 0 {
		c.Retry.BackoffMultiplier = d.Retry.BackoffMultiplier
	}
	if len(c.Retry.Strategies) == 0 {
		c.Retry.Strategies = d.Retry.Strategies
	}
	if c.ErrorPatterns == nil {
		c.ErrorPatterns = d.ErrorPatterns
	}
	if c.LoadingSelectors == nil {
		c.LoadingSelectors = d.LoadingSelectors
	}
}

// NavigateOptions describes one navigation. Zero fields fall back to the
// validator's config.
type NavigateOptions struct {
	URL              string
	WaitForSelectors []string
	Timeout          time.Duration
}

const pollInterval = 100 * time.Millisecond

// Validator navigates a PageDriver, waits for the page to settle,
// validates the result and retries failures.
type Validator struct {
	driver        PageDriver
	config        ValidatorConfig
	errorPatterns []*regexp.Regexp
	recorder      *metrics.Recorder

	// lastRequest holds the unix nanos of the latest outgoing request.
	lastRequest atomic.Int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewValidator creates a validator bound to driver. Invalid error patterns
// are logged and skipped.
func NewValidator(driver PageDriver, cfg ValidatorConfig) *Validator {
	cfg.applyDefaults()
	v := &Validator{
		driver: driver,
		config: cfg,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, p := range cfg.ErrorPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			debugLog.Warnf("Skipping invalid error pattern %q: %v", p, err)
			continue
		}
		v.errorPatterns = append(v.errorPatterns, re)
	}
	driver.OnRequest(func(t time.Time) {
		v.lastRequest.Store(t.UnixNano())
	})
	return v
}

// SetRecorder attaches a metrics recorder. A nil recorder disables metrics.
func (v *Validator) SetRecorder(r *metrics.Recorder) {
	v.recorder = r
}

// Config returns the effective configuration.
func (v *Validator) Config() ValidatorConfig {
	return v.config
}

// NavigateWithValidation navigates to opts.URL and retries until the page
// passes validation or retries run out. It never returns nil.
func (v *Validator) NavigateWithValidation(ctx context.Context, opts NavigateOptions) *PageLoadResult {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = v.config.Timeout
	}
	selectors := opts.WaitForSelectors
	if selectors == nil {
		selectors = v.config.WaitForSelectors
	}

	result := &PageLoadResult{URL: opts.URL}
	start := v.now()
	strategies := v.config.Retry.Strategies
	var strategy RetryStrategy
	var lastErr error
	// landed is where the last committed load ended up, after redirects.
	var landed string

	for {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		debugLog.Debugf("Navigating to %s (attempt %d, timeout %s)", opts.URL, result.RetryCount+1, timeout)
		validations, err := v.attempt(ctx, opts.URL, &landed, timeout, selectors, strategy)
		result.Validations = validations
		if err == nil {
			v.recorder.NavigationAttempt(string(StatusLoaded))
			result.Success = true
			result.Status = StatusLoaded
			result.FinalURL = v.driver.URL()
			result.LoadTime = v.now().Sub(start)
			debugLog.Infof("Loaded %s after %d retries in %s", opts.URL, result.RetryCount, result.LoadTime)
			return result
		}

		lastErr = err
		v.recorder.NavigationAttempt(string(classifyError(err)))
		debugLog.Warnf("Attempt %d for %s failed: %v", result.RetryCount+1, opts.URL, err)
		if v.config.ScreenshotOnFailure {
			if path := v.failureScreenshot(result.RetryCount); path != "" {
				result.ScreenshotPath = path
			}
		}

		if result.RetryCount >= v.config.Retry.MaxRetries {
			break
		}

		strategy = strategies[result.RetryCount%len(strategies)]
		if err := v.sleep(ctx, v.backoff(result.RetryCount)); err != nil {
			lastErr = err
			break
		}
		result.RetryCount++
		result.StrategiesApplied = append(result.StrategiesApplied, strategy)
		v.recorder.NavigationRetry(string(strategy))
		timeout = v.applyStrategy(strategy, timeout)
	}

	result.Success = false
	result.Status = classifyError(lastErr)
	result.Error = lastErr.Error()
	result.FinalURL = v.driver.URL()
	result.LoadTime = v.now().Sub(start)
	debugLog.Errorf("Giving up on %s after %d retries: %s (%s)", opts.URL, result.RetryCount, result.Error, result.Status)
	return result
}

// ValidateCurrentPage runs the page checks against whatever the driver is
// showing, without navigating.
func (v *Validator) ValidateCurrentPage(ctx context.Context) ([]ValidationResult, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	validations := v.validate()
	return validations, allPassed(validations)
}

func (v *Validator) attempt(ctx context.Context, url string, landed *string, timeout time.Duration, selectors []string, strategy RetryStrategy) ([]ValidationResult, error) {
	v.lastRequest.Store(v.now().UnixNano())

	status, err := v.load(url, *landed, timeout, strategy)
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}
	*landed = v.driver.URL()
	if status >= 400 {
		return nil, fmt.Errorf("HTTP %d error", status)
	}

	v.waitForPage(ctx, timeout, selectors)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	validations := v.validate()
	var failed []string
	for _, r := range validations {
		if !r.Passed {
			failed = append(failed, r.Name)
		}
	}
	if len(failed) > 0 {
		return validations, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(failed, ", "))
	}
	return validations, nil
}

// load performs the navigation for an attempt. Refresh strategies reload
// only when the open page is the target, or where an earlier attempt at
// the target landed. Anything else is navigated to afresh.
func (v *Validator) load(url, landed string, timeout time.Duration, strategy RetryStrategy) (int, error) {
	if strategy == StrategyRefresh || strategy == StrategyHardRefresh {
		current := v.driver.URL()
		if sameURL(current, url) || (landed != "" && sameURL(current, landed)) {
			return v.driver.Reload(strategy == StrategyHardRefresh, timeout)
		}
		debugLog.Debugf("Open page %s is not %s; navigating instead of reloading", current, url)
	}
	return v.driver.Navigate(url, timeout)
}

func sameURL(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}

// applyStrategy runs the recovery action and returns the timeout for the
// next attempt.
func (v *Validator) applyStrategy(strategy RetryStrategy, timeout time.Duration) time.Duration {
	var err error
	switch strategy {
	case StrategyClearCache:
		err = v.driver.ClearCache()
	case StrategyClearCookies:
		err = v.driver.ClearCookies()
	case StrategyNewContext:
		err = v.driver.NewContext()
	case StrategyWaitLonger:
		timeout = time.Duration(float64(timeout) * 1.5)
	}
	if err != nil {
		debugLog.Warnf("Retry strategy %s failed: %v", strategy, err)
	} else {
		debugLog.Debugf("Applied retry strategy %s", strategy)
	}
	return timeout
}

func (v *Validator) backoff(retry int) time.Duration {
	r := v.config.Retry
	delay := float64(r.InitialDelay) * math.Pow(r.BackoffMultiplier, float64(retry))
	if delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	return time.Duration(delay)
}

// waitForPage runs the settle stages. Failures are logged; the
// validations decide whether the page is usable.
func (v *Validator) waitForPage(ctx context.Context, timeout time.Duration, selectors []string) {
	v.waitForDOMReady(ctx, timeout)

	if len(selectors) > 0 {
		slice := v.config.SelectorTimeout / time.Duration(len(selectors))
		for _, sel := range selectors {
			if err := v.driver.WaitForSelector(sel, slice); err != nil {
				debugLog.Warnf("Selector %s not found within %s: %v", sel, slice, err)
			}
		}
	}

	v.waitForNetworkQuiet(ctx, timeout)
	v.waitForJSIdle()
}

func (v *Validator) waitForDOMReady(ctx context.Context, timeout time.Duration) {
	polls := int(timeout / pollInterval)
	for i := 0; i <= polls; i++ {
		state, err := v.driver.Evaluate("document.readyState")
		if err == nil && state == "complete" {
			return
		}
		if err := v.sleep(ctx, pollInterval); err != nil {
			return
		}
	}
	debugLog.Warnf("Document did not reach readyState=complete within %s", timeout)
}

func (v *Validator) waitForNetworkQuiet(ctx context.Context, timeout time.Duration) {
	quiet := v.config.NetworkQuietPeriod
	deadline := v.now().Add(timeout)
	for {
		now := v.now()
		idle := now.Sub(time.Unix(0, v.lastRequest.Load()))
		if idle >= quiet {
			return
		}
		if !now.Before(deadline) {
			debugLog.Warnf("Network never went quiet for %s", quiet)
			return
		}
		if err := v.sleep(ctx, quiet-idle); err != nil {
			return
		}
	}
}

func (v *Validator) waitForJSIdle() {
	expr := fmt.Sprintf(`() => new Promise(resolve => {
  if ('requestIdleCallback' in window) {
    requestIdleCallback(() => resolve(true), { timeout: %d });
  } else {
    setTimeout(() => resolve(true), 50);
  }
})`, v.config.JSIdleTimeout.Milliseconds())
	if _, err := v.driver.Evaluate(expr); err != nil {
		debugLog.Debugf("JS idle check failed: %v", err)
	}
}

func (v *Validator) validate() []ValidationResult {
	title, _ := v.driver.Title()
	content, contentErr := v.driver.Content()
	var summary PageSummary
	if contentErr == nil {
		summary, contentErr = SummarizeHTML(content)
	}

	return []ValidationResult{
		v.checkErrorPage(title + "\n" + summary.Text),
		v.checkLoading(),
		checkContent(summary, contentErr),
		{Name: CheckNoConsoleErrors, Passed: true, Message: "console error capture is not enabled"},
	}
}

func (v *Validator) checkErrorPage(text string) ValidationResult {
	for _, re := range v.errorPatterns {
		if m := re.FindString(text); m != "" {
			return ValidationResult{Name: CheckNoErrorPage, Message: fmt.Sprintf("error page signature found: %q", m)}
		}
	}
	return ValidationResult{Name: CheckNoErrorPage, Passed: true}
}

func (v *Validator) checkLoading() ValidationResult {
	for _, sel := range v.config.LoadingSelectors {
		visible, err := v.driver.IsVisible(sel)
		if err == nil && visible {
			return ValidationResult{Name: CheckNoLoading, Message: fmt.Sprintf("loading indicator %s is still visible", sel)}
		}
	}
	return ValidationResult{Name: CheckNoLoading, Passed: true}
}

func checkContent(summary PageSummary, err error) ValidationResult {
	if err != nil {
		return ValidationResult{Name: CheckHasContent, Message: fmt.Sprintf("could not read page content: %v", err)}
	}
	msg := fmt.Sprintf("%d chars of text, %d images, %d buttons", utf8.RuneCountInString(summary.Text), summary.Images, summary.Buttons)
	return ValidationResult{Name: CheckHasContent, Passed: summary.HasContent(), Message: msg}
}

func (v *Validator) failureScreenshot(retry int) string {
	dir := v.config.ScreenshotDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		debugLog.Warnf("Cannot create screenshot dir %s: %v", dir, err)
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("navigation-failure-%d-%d.png", v.now().Unix(), retry))
	if err := v.driver.Screenshot(path); err != nil {
		debugLog.Warnf("Failure screenshot failed: %v", err)
		return ""
	}
	return path
}

// classifyError maps an attempt error to a load status by its text.
func classifyError(err error) PageLoadStatus {
	if err == nil {
		return StatusLoaded
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StatusTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return StatusTimeout
	case strings.Contains(msg, "blocked"):
		return StatusBlocked
	case errors.Is(err, ErrValidationFailed) || strings.Contains(msg, "validation failed"):
		return StatusPartial
	default:
		return StatusError
	}
}

func allPassed(validations []ValidationResult) bool {
	for _, r := range validations {
		if !r.Passed {
			return false
		}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
