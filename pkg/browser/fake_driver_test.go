package browser

import (
	"context"
	"strings"
	"sync"
	"time"
)

const richHTML = `<html><head><title>Dashboard</title><script>var x = "ignored";</script></head>
<body><main><h1>Welcome back</h1><p>Here is everything that happened in your projects since yesterday.</p>
<button>New project</button></main></body></html>`

type fakePage struct {
	status  int
	title   string
	html    string
	visible map[string]bool
}

// fakeDriver is an in-memory PageDriver. Pages are keyed by URL; redirects
// map a requested URL to the URL the page ends up on.
type fakeDriver struct {
	mu sync.Mutex

	pages     map[string]fakePage
	redirects map[string]string
	statusSeq map[string][]int
	loadErr   error
	// failSeq holds per-URL errors, consumed one per load. A failed load
	// leaves the previous page open, as a navigation that never commits.
	failSeq map[string][]error

	url      string
	timeouts []time.Duration

	navigates    int
	reloads      int
	hardReloads  int
	clearCache   int
	clearCookies int
	newContexts  int
	screenshots  []string
	closed       bool

	storage      StorageState
	addedCookies []Cookie
	listeners    []func(time.Time)
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		pages:     make(map[string]fakePage),
		redirects: make(map[string]string),
		statusSeq: make(map[string][]int),
		failSeq:   make(map[string][]error),
		url:       "about:blank",
	}
}

func (d *fakeDriver) addPage(url string, p fakePage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[url] = p
}

func (d *fakeDriver) setURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

func (d *fakeDriver) load(url string, timeout time.Duration) (int, error) {
	d.timeouts = append(d.timeouts, timeout)
	if d.loadErr != nil {
		return 0, d.loadErr
	}
	if errs := d.failSeq[url]; len(errs) > 0 {
		d.failSeq[url] = errs[1:]
		return 0, errs[0]
	}
	if target, ok := d.redirects[url]; ok {
		url = target
	}
	d.url = url
	if seq := d.statusSeq[url]; len(seq) > 0 {
		d.statusSeq[url] = seq[1:]
		return seq[0], nil
	}
	p, ok := d.pages[url]
	if !ok {
		return 404, nil
	}
	return p.status, nil
}

func (d *fakeDriver) Navigate(url string, timeout time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigates++
	return d.load(url, timeout)
}

func (d *fakeDriver) Reload(hard bool, timeout time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reloads++
	if hard {
		d.hardReloads++
	}
	return d.load(d.url, timeout)
}

func (d *fakeDriver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *fakeDriver) Title() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pages[d.url].title, nil
}

func (d *fakeDriver) Content() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pages[d.url].html, nil
}

func (d *fakeDriver) IsVisible(selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pages[d.url].visible[selector], nil
}

func (d *fakeDriver) WaitForSelector(selector string, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !strings.Contains(d.pages[d.url].html, strings.TrimPrefix(selector, "#")) {
		return context.DeadlineExceeded
	}
	return nil
}

func (d *fakeDriver) WaitForLoadState(LoadState, time.Duration) error { return nil }

func (d *fakeDriver) Evaluate(expression string) (interface{}, error) {
	if expression == "document.readyState" {
		return "complete", nil
	}
	return true, nil
}

func (d *fakeDriver) Screenshot(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.screenshots = append(d.screenshots, path)
	return nil
}

func (d *fakeDriver) ClearCache() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearCache++
	return nil
}

func (d *fakeDriver) ClearCookies() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearCookies++
	return nil
}

func (d *fakeDriver) NewContext() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.newContexts++
	d.url = "about:blank"
	return nil
}

func (d *fakeDriver) StorageState() (StorageState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.storage, nil
}

func (d *fakeDriver) AddCookies(cookies []Cookie) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addedCookies = append(d.addedCookies, cookies...)
	return nil
}

func (d *fakeDriver) OnRequest(listener func(time.Time)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, listener)
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// fakeClock advances only when something sleeps on it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestValidator(d *fakeDriver, cfg ValidatorConfig) (*Validator, *fakeClock) {
	clock := newFakeClock()
	v := NewValidator(d, cfg)
	v.now = clock.Now
	v.sleep = clock.Sleep
	return v, clock
}
