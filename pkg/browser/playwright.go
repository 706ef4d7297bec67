package browser

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Viewport is the browser window size in pixels.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// DriverOptions configures LaunchPlaywright.
type DriverOptions struct {
	Headless bool
	Viewport Viewport
	// Timeout is the page's default action timeout.
	Timeout time.Duration
	// StorageStatePath seeds the first context from a storage state file.
	StorageStatePath string
}

// Default driver settings.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultDriverTimeout  = 30 * time.Second
)

// PlaywrightDriver is a PageDriver backed by a Chromium instance.
type PlaywrightDriver struct {
	mu sync.Mutex

	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	opts    DriverOptions

	// listenersMu is separate from mu so request events delivered while a
	// context is closing cannot deadlock.
	listenersMu sync.Mutex
	listeners   []func(time.Time)
}

// LaunchPlaywright installs the playwright driver if needed, starts
// Chromium and opens one context and page.
func LaunchPlaywright(opts DriverOptions) (*PlaywrightDriver, error) {
	if opts.Viewport.Width == 0 || opts.Viewport.Height == 0 {
		opts.Viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultDriverTimeout
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	d := &PlaywrightDriver{pw: pw, browser: browser, opts: opts}
	if err := d.openContext(opts.StorageStatePath); err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, err
	}
	debugLog.Infof("Launched chromium (headless=%v, viewport=%dx%d)", opts.Headless, opts.Viewport.Width, opts.Viewport.Height)
	return d, nil
}

// openContext creates a context and page and attaches request listeners.
// Callers hold mu or own d exclusively.
func (d *PlaywrightDriver) openContext(storageStatePath string) error {
	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  d.opts.Viewport.Width,
			Height: d.opts.Viewport.Height,
		},
	}
	if storageStatePath != "" {
		ctxOpts.StorageStatePath = playwright.String(storageStatePath)
	}

	bctx, err := d.browser.NewContext(ctxOpts)
	if err != nil {
		return fmt.Errorf("failed to create context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(millis(d.opts.Timeout))
	page.OnRequest(func(playwright.Request) {
		d.fireRequest(time.Now())
	})

	d.context = bctx
	d.page = page
	return nil
}

func (d *PlaywrightDriver) fireRequest(t time.Time) {
	d.listenersMu.Lock()
	listeners := make([]func(time.Time), len(d.listeners))
	copy(listeners, d.listeners)
	d.listenersMu.Unlock()
	for _, l := range listeners {
		l(t)
	}
}

func (d *PlaywrightDriver) current() (playwright.BrowserContext, playwright.Page) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.context, d.page
}

// Navigate implements PageDriver.
func (d *PlaywrightDriver) Navigate(url string, timeout time.Duration) (int, error) {
	_, page := d.current()
	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(millis(timeout)),
	})
	return responseStatus(resp, err)
}

// Reload implements PageDriver. A hard reload sends no-cache headers for
// the duration of the reload.
func (d *PlaywrightDriver) Reload(hard bool, timeout time.Duration) (int, error) {
	bctx, page := d.current()
	if hard {
		if err := bctx.SetExtraHTTPHeaders(map[string]string{
			"Cache-Control": "no-cache",
			"Pragma":        "no-cache",
		}); err != nil {
			return 0, fmt.Errorf("failed to set no-cache headers: %w", err)
		}
		defer func() {
			_ = bctx.SetExtraHTTPHeaders(map[string]string{})
		}()
	}
	resp, err := page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(millis(timeout)),
	})
	return responseStatus(resp, err)
}

func responseStatus(resp playwright.Response, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	if resp == nil {
		return 0, nil
	}
	return resp.Status(), nil
}

// URL implements PageDriver.
func (d *PlaywrightDriver) URL() string {
	_, page := d.current()
	return page.URL()
}

// Title implements PageDriver.
func (d *PlaywrightDriver) Title() (string, error) {
	_, page := d.current()
	return page.Title()
}

// Content implements PageDriver.
func (d *PlaywrightDriver) Content() (string, error) {
	_, page := d.current()
	return page.Content()
}

// IsVisible implements PageDriver.
func (d *PlaywrightDriver) IsVisible(selector string) (bool, error) {
	_, page := d.current()
	return page.Locator(selector).First().IsVisible()
}

// WaitForSelector implements PageDriver.
func (d *PlaywrightDriver) WaitForSelector(selector string, timeout time.Duration) error {
	_, page := d.current()
	_, err := page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(millis(timeout)),
	})
	return err
}

// WaitForLoadState implements PageDriver.
func (d *PlaywrightDriver) WaitForLoadState(state LoadState, timeout time.Duration) error {
	_, page := d.current()
	s := playwright.LoadState(state)
	return page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   &s,
		Timeout: playwright.Float(millis(timeout)),
	})
}

// Evaluate implements PageDriver.
func (d *PlaywrightDriver) Evaluate(expression string) (interface{}, error) {
	_, page := d.current()
	return page.Evaluate(expression)
}

// Screenshot implements PageDriver.
func (d *PlaywrightDriver) Screenshot(path string) error {
	_, page := d.current()
	_, err := page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return err
}

// ClearCache implements PageDriver through the DevTools protocol.
func (d *PlaywrightDriver) ClearCache() error {
	bctx, page := d.current()
	session, err := bctx.NewCDPSession(page)
	if err != nil {
		return fmt.Errorf("failed to open CDP session: %w", err)
	}
	defer func() {
		_ = session.Detach()
	}()
	if _, err := session.Send("Network.clearBrowserCache", nil); err != nil {
		return fmt.Errorf("failed to clear browser cache: %w", err)
	}
	return nil
}

// ClearCookies implements PageDriver.
func (d *PlaywrightDriver) ClearCookies() error {
	bctx, _ := d.current()
	return bctx.ClearCookies()
}

// NewContext implements PageDriver.
func (d *PlaywrightDriver) NewContext() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.context != nil {
		if err := d.context.Close(); err != nil {
			debugLog.Warnf("Closing old browser context failed: %v", err)
		}
	}
	return d.openContext("")
}

// StorageState implements PageDriver.
func (d *PlaywrightDriver) StorageState() (StorageState, error) {
	bctx, _ := d.current()
	ps, err := bctx.StorageState()
	if err != nil {
		return StorageState{}, fmt.Errorf("failed to read storage state: %w", err)
	}

	state := StorageState{Cookies: []Cookie{}, Origins: []SessionOrigin{}}
	for _, c := range ps.Cookies {
		cookie := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		state.Cookies = append(state.Cookies, cookie)
	}
	for _, o := range ps.Origins {
		origin := SessionOrigin{Origin: o.Origin}
		for _, e := range o.LocalStorage {
			origin.LocalStorage = append(origin.LocalStorage, StorageEntry{Name: e.Name, Value: e.Value})
		}
		state.Origins = append(state.Origins, origin)
	}
	return state, nil
}

// AddCookies implements PageDriver.
func (d *PlaywrightDriver) AddCookies(cookies []Cookie) error {
	bctx, _ := d.current()
	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Path == "" {
			oc.Path = playwright.String("/")
		}
		if c.HasExpiry() {
			oc.Expires = playwright.Float(c.Expires)
		}
		if c.SameSite != "" {
			s := playwright.SameSiteAttribute(c.SameSite)
			oc.SameSite = &s
		}
		optional = append(optional, oc)
	}
	return bctx.AddCookies(optional)
}

// OnRequest implements PageDriver.
func (d *PlaywrightDriver) OnRequest(listener func(time.Time)) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	d.listeners = append(d.listeners, listener)
}

// Close releases the page, context, browser and playwright process.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	if d.context != nil {
		if err := d.context.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.context = nil
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.browser = nil
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.pw = nil
	}
	return firstErr
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
