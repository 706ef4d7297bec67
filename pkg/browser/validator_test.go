package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/phaseguard/pkg/metrics"
)

const appURL = "https://app.example.com/dashboard"

func TestNavigateWithValidation_Success(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 200, title: "Dashboard", html: richHTML})
	v, clock := newTestValidator(d, ValidatorConfig{})

	res := v.NavigateWithValidation(context.Background(), NavigateOptions{URL: appURL})

	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, StatusLoaded, res.Status)
	assert.Equal(t, 0, res.RetryCount)
	assert.Equal(t, appURL, res.FinalURL)
	assert.Empty(t, res.Error)
	require.Len(t, res.Validations, 4)
	for _, val := range res.Validations {
		assert.True(t, val.Passed, val.Name)
	}
	// Only the network-quiet wait sleeps on a clean load.
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clock.Sleeps())
	assert.Equal(t, 500*time.Millisecond, res.LoadTime)
}

func TestNavigateWithValidation_Always503ExhaustsRetries(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 503, title: "Service Unavailable"})
	v, clock := newTestValidator(d, ValidatorConfig{})

	res := v.NavigateWithValidation(context.Background(), NavigateOptions{URL: appURL})

	assert.False(t, res.Success)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 3, res.RetryCount)
	assert.Equal(t, "HTTP 503 error", res.Error)
	assert.Equal(t, []RetryStrategy{StrategyRefresh, StrategyHardRefresh, StrategyClearCache}, res.StrategiesApplied)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clock.Sleeps())

	assert.Equal(t, 2, d.navigates)
	assert.Equal(t, 2, d.reloads)
	assert.Equal(t, 1, d.hardReloads)
	assert.Equal(t, 1, d.clearCache)
}

func TestNavigateWithValidation_BackoffIsCapped(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 500})
	v, clock := newTestValidator(d, ValidatorConfig{
		Retry: RetryConfig{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 2},
	})

	res := v.NavigateWithValidation(context.Background(), NavigateOptions{URL: appURL})

	assert.Equal(t, 5, res.RetryCount)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, clock.Sleeps())
	// Strategies go round-robin from the start of the list.
	assert.Equal(t, []RetryStrategy{
		StrategyRefresh, StrategyHardRefresh, StrategyClearCache, StrategyClearCookies, StrategyWaitLonger,
	}, res.StrategiesApplied)
	assert.Equal(t, 1, d.clearCookies)
}

func TestNavigateWithValidation_RecoversOnRetry(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 200, title: "Dashboard", html: richHTML})
	d.statusSeq[appURL] = []int{502}
	v, _ := newTestValidator(d, ValidatorConfig{})

	res := v.NavigateWithValidation(context.Background(), NavigateOptions{URL: appURL})

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.RetryCount)
	assert.Equal(t, []RetryStrategy{StrategyRefresh}, res.StrategiesApplied)
	assert.Equal(t, 1, d.reloads)
}

func TestNavigateWithValidation_RetryDefaults(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		want       int
	}{
		{"zero takes default", 0, 3},
		{"explicit", 1, 1},
		{"disabled", NoRetries, 0},
		{"any negative disables", -5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDriver()
			d.addPage(appURL, fakePage{status: 503})
			v, _ := newTestValidator(d, ValidatorConfig{Retry: RetryConfig{MaxRetries: tt.maxRetries}})

			res := v.NavigateWithValidation(context.Background(), NavigateOptions{URL: appURL})
			assert.Equal(t, tt.want, res.RetryCount)
			assert.Len(t, res.StrategiesApplied, tt.want)
		})
	}
}

func TestNavigateWithValidation_RefreshNeverReloadsAnotherPage(t *testing.T) {
	const reportURL = "https://other.example.com/report"
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 200, title: "Dashboard", html: richHTML})
	d.addPage(reportURL, fakePage{status: 200, title: "Report", html: richHTML})
	d.setURL(appURL)
	d.failSeq[reportURL] = []error{
		errors.New("net::ERR_CONNECTION_RESET"),
		errors.New("net::ERR_CONNECTION_RESET"),
		errors.New("net::ERR_CONNECTION_RESET"),
	}
	v, _ := newTestValidator(d, ValidatorConfig{
		Retry: RetryConfig{MaxRetries: 2, Strategies: []RetryStrategy{StrategyRefresh, StrategyHardRefresh}},
	})

	res := v.NavigateWithValidation(context.Background(), NavigateOptions{URL: reportURL})

	assert.False(t, res.Success)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "ERR_CONNECTION_RESET")
	assert.Equal(t, 0, d.reloads)
	assert.Equal(t, 3, d.navigates)
}

func TestNavigateWithValidation_RefreshAfterUncommittedNavigationLoadsTarget(t *testing.T) {
	const reportURL = "https://other.example.com/report"
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 200, title: "Dashboard", html: richHTML})
	d.addPage(reportURL, fakePage{status: 200, title: "Report", html: richHTML})
	d.setURL(appURL)
	d.failSeq[reportURL] = []error{errors.New("Timeout 30000ms exceeded")}
	v, _ := newTestValidator(d, ValidatorConfig{})

	res := v.NavigateWithValidation(context.Background(), NavigateOptions{URL: reportURL})

	assert.True(t, res.Success)
	assert.Equal(t, reportURL, res.FinalURL)
	assert.Equal(t, []RetryStrategy{StrategyRefresh}, res.StrategiesApplied)
	assert.Equal(t, 0, d.reloads)
	assert.Equal(t, 2, d.navigates)
}

func TestNavigateWithValidation_RefreshReloadsRedirectTarget(t *testing.T) {
	const homeURL = "https://app.example.com/home"
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 200, title: "Dashboard", html: richHTML})
	d.redirects[homeURL] = appURL
	d.statusSeq[appURL] = []int{502}
	v, _ := newTestValidator(d, ValidatorConfig{})

	res := v.NavigateWithValidation(context.Background(), NavigateOptions{URL: homeURL})

	assert.True(t, res.Success)
	assert.Equal(t, appURL, res.FinalURL)
	assert.Equal(t, 1, d.reloads)
	assert.Equal(t, 1, d.navigates)
}

func TestNavigateWithValidation_FailedValidationIsPartial(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 200, html: "<html><body><p>hi</p></body></html>"})
	v, _ := newTestValidator(d, ValidatorConfig{Retry: RetryConfig{MaxRetries: NoRetries}})

	res := v.NavigateWithValidation(context.Background(), NavigateOptions{URL: appURL})

	assert.False(t, res.Success)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Contains(t, res.Error, CheckHasContent)
	assert.True(t, errors.Is(fmt.Errorf("%w: x", ErrValidationFailed), ErrValidationFailed))
}

func TestValidations(t *testing.T) {
	tests := []struct {
		name   string
		page   fakePage
		failed string
	}{
		{
			name:   "error page title",
			page:   fakePage{status: 200, title: "404 Not Found", html: richHTML},
			failed: CheckNoErrorPage,
		},
		{
			name:   "error page body",
			page:   fakePage{status: 200, html: "<body><h1>Something went wrong</h1><p>Please try again later, we are on it.</p></body>"},
			failed: CheckNoErrorPage,
		},
		{
			name:   "spinner still visible",
			page:   fakePage{status: 200, html: richHTML, visible: map[string]bool{".spinner": true}},
			failed: CheckNoLoading,
		},
		{
			name:   "empty body",
			page:   fakePage{status: 200, html: "<body><div id=root></div></body>"},
			failed: CheckHasContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDriver()
			d.addPage(appURL, tt.page)
			d.setURL(appURL)
			v, _ := newTestValidator(d, ValidatorConfig{})

			validations, ok := v.ValidateCurrentPage(context.Background())
			assert.False(t, ok)
			for _, val := range validations {
				if val.Name == tt.failed {
					assert.False(t, val.Passed)
					assert.NotEmpty(t, val.Message)
				} else {
					assert.True(t, val.Passed, val.Name)
				}
			}
		})
	}
}

func TestValidations_ButtonsOrImagesCountAsContent(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 200, html: `<body><img src="chart.png"></body>`})
	d.setURL(appURL)
	v, _ := newTestValidator(d, ValidatorConfig{})

	_, ok := v.ValidateCurrentPage(context.Background())
	assert.True(t, ok)
}

func TestNavigateWithValidation_ErrorClassification(t *testing.T) {
	tests := []struct {
		err  error
		want PageLoadStatus
	}{
		{errors.New("Timeout 30000ms exceeded"), StatusTimeout},
		{errors.New("net::ERR_BLOCKED_BY_CLIENT"), StatusBlocked},
		{errors.New("net::ERR_NAME_NOT_RESOLVED"), StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			d := newFakeDriver()
			d.loadErr = tt.err
			v, _ := newTestValidator(d, ValidatorConfig{Retry: RetryConfig{MaxRetries: 1}})

			res := v.NavigateWithValidation(context.Background(), NavigateOptions{URL: appURL})
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, 1, res.RetryCount)
			assert.Contains(t, res.Error, tt.err.Error())
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, StatusLoaded, classifyError(nil))
	assert.Equal(t, StatusTimeout, classifyError(context.DeadlineExceeded))
	assert.Equal(t, StatusTimeout, classifyError(fmt.Errorf("navigation failed: %w", context.Canceled)))
	assert.Equal(t, StatusPartial, classifyError(fmt.Errorf("%w: has-content", ErrValidationFailed)))
	assert.Equal(t, StatusError, classifyError(errors.New("HTTP 500 error")))
}

func TestNavigateWithValidation_CancelledContextIsTimeout(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 200, html: richHTML})
	v, _ := newTestValidator(d, ValidatorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := v.NavigateWithValidation(ctx, NavigateOptions{URL: appURL})

	assert.False(t, res.Success)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, 0, d.navigates)
}

func TestNavigateWithValidation_WaitLongerGrowsTimeout(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 500})
	v, _ := newTestValidator(d, ValidatorConfig{
		Timeout: 10 * time.Second,
		Retry:   RetryConfig{MaxRetries: 2, Strategies: []RetryStrategy{StrategyWaitLonger}},
	})

	v.NavigateWithValidation(context.Background(), NavigateOptions{URL: appURL})

	assert.Equal(t, []time.Duration{10 * time.Second, 15 * time.Second, 22500 * time.Millisecond}, d.timeouts)
}

func TestNavigateWithValidation_NewContextStrategy(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 500})
	v, _ := newTestValidator(d, ValidatorConfig{
		Retry: RetryConfig{MaxRetries: 1, Strategies: []RetryStrategy{StrategyNewContext}},
	})

	v.NavigateWithValidation(context.Background(), NavigateOptions{URL: appURL})

	assert.Equal(t, 1, d.newContexts)
	assert.Equal(t, 2, d.navigates)
}

func TestNavigateWithValidation_ScreenshotOnFailure(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 500})
	dir := t.TempDir()
	v, _ := newTestValidator(d, ValidatorConfig{
		ScreenshotOnFailure: true,
		ScreenshotDir:       dir,
		Retry:               RetryConfig{MaxRetries: 1},
	})

	res := v.NavigateWithValidation(context.Background(), NavigateOptions{URL: appURL})

	require.Len(t, d.screenshots, 2)
	assert.Equal(t, d.screenshots[1], res.ScreenshotPath)
	assert.Contains(t, res.ScreenshotPath, dir)
}

func TestNavigateWithValidation_SelectorWaitsAreNotFatal(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 200, html: richHTML})
	v, _ := newTestValidator(d, ValidatorConfig{})

	res := v.NavigateWithValidation(context.Background(), NavigateOptions{
		URL:              appURL,
		WaitForSelectors: []string{"#missing-widget"},
	})
	assert.True(t, res.Success)
}

func TestValidator_RequestEventsDelayNetworkQuiet(t *testing.T) {
	d := newFakeDriver()
	v, clock := newTestValidator(d, ValidatorConfig{})
	require.Len(t, d.listeners, 1)

	v.lastRequest.Store(clock.Now().UnixNano())
	clock.now = clock.now.Add(200 * time.Millisecond)
	d.listeners[0](clock.Now())

	v.waitForNetworkQuiet(context.Background(), time.Second)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clock.Sleeps())
}

func TestValidator_InvalidErrorPatternSkipped(t *testing.T) {
	d := newFakeDriver()
	v := NewValidator(d, ValidatorConfig{ErrorPatterns: []string{"(unclosed", "teapot"}})
	assert.Len(t, v.errorPatterns, 1)
}

func TestValidator_Metrics(t *testing.T) {
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 503})
	v, _ := newTestValidator(d, ValidatorConfig{Retry: RetryConfig{MaxRetries: 2}})
	rec := metrics.NewRecorder()
	v.SetRecorder(rec)

	v.NavigateWithValidation(context.Background(), NavigateOptions{URL: appURL})

	assert.Equal(t, 3.0, testutil.ToFloat64(rec.NavigationAttempts().WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.NavigationRetries().WithLabelValues("refresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.NavigationRetries().WithLabelValues("hard-refresh")))
}

func TestSummarizeHTML(t *testing.T) {
	summary, err := SummarizeHTML(`<html><head><title>T</title><style>.a{}</style></head><body>
<script>console.log("nope")</script><noscript>enable js</noscript>
<p>Hello   world</p><img src="a.png"><button>Go</button><input type="submit" value="Send">
<input type="text"><a role="button" href="#">Link</a></body></html>`)
	require.NoError(t, err)

	assert.Equal(t, "Hello world Go Link", summary.Text)
	assert.Equal(t, 1, summary.Images)
	assert.Equal(t, 3, summary.Buttons)
	assert.True(t, summary.HasContent())
	assert.False(t, PageSummary{Text: "short"}.HasContent())
}

func TestPageSummary_HasContentCountsCharacters(t *testing.T) {
	// 30 two-byte characters: 60 bytes but only 30 characters.
	assert.False(t, PageSummary{Text: strings.Repeat("é", 30)}.HasContent())
	assert.False(t, PageSummary{Text: strings.Repeat("日", 50)}.HasContent())
	assert.True(t, PageSummary{Text: strings.Repeat("日", 51)}.HasContent())
}
