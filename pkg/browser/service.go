package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LoginCheckpoint hands a login wall to the host UI and blocks until the
// person reports the login done (true) or abandoned (false). It has no
// timeout of its own.
type LoginCheckpoint func(ctx context.Context, url string) (bool, error)

// AutomationConfig tunes the login handling of AutomationService.
type AutomationConfig struct {
	RedirectSettle   time.Duration `yaml:"redirect_settle" json:"redirect_settle"`
	AuthPollTimeout  time.Duration `yaml:"auth_poll_timeout" json:"auth_poll_timeout"`
	AuthPollInterval time.Duration `yaml:"auth_poll_interval" json:"auth_poll_interval"`
	RestoreSessions  bool          `yaml:"restore_sessions" json:"restore_sessions"`
	AutoSaveSessions bool          `yaml:"auto_save_sessions" json:"auto_save_sessions"`
}

// DefaultAutomationConfig returns the stock login handling.
func DefaultAutomationConfig() AutomationConfig {
	return AutomationConfig{
		RedirectSettle:   2 * time.Second,
		AuthPollTimeout:  60 * time.Second,
		AuthPollInterval: time.Second,
		RestoreSessions:  true,
		AutoSaveSessions: true,
	}
}

// NavigationResult is a page load result plus what happened with login.
type NavigationResult struct {
	PageLoadResult

	AuthRequired  bool     `json:"authRequired"`
	AuthCompleted bool     `json:"authCompleted"`
	AuthFailed    bool     `json:"authFailed"`
	SessionSaved  bool     `json:"sessionSaved"`
	SessionID     string   `json:"sessionId,omitempty"`
	Message       string   `json:"message"`
	Suggestions   []string `json:"suggestions,omitempty"`
}

// AutomationService drives one browser page with validated navigation,
// login handling and session reuse. Calls are serialized.
type AutomationService struct {
	mu sync.Mutex

	driver     PageDriver
	validator  *Validator
	storage    *SessionStorage
	auth       *AuthSessionManager
	config     AutomationConfig
	checkpoint LoginCheckpoint

	sleep func(ctx context.Context, d time.Duration) error
}

// NewAutomationService wires the components together. storage may be nil
// to disable session persistence; checkpoint may be nil to fall back to
// the auth manager's prompt.
func NewAutomationService(driver PageDriver, validator *Validator, storage *SessionStorage, auth *AuthSessionManager, cfg AutomationConfig, checkpoint LoginCheckpoint) *AutomationService {
	d := DefaultAutomationConfig()
	if cfg.RedirectSettle < 0 {
		cfg.RedirectSettle = 0
	}
	if cfg.AuthPollTimeout <= 0 {
		cfg.AuthPollTimeout = d.AuthPollTimeout
	}
	if cfg.AuthPollInterval <= 0 {
		cfg.AuthPollInterval = d.AuthPollInterval
	}
	if validator == nil {
		validator = NewValidator(driver, DefaultValidatorConfig())
	}
	if auth == nil {
		auth = NewAuthSessionManager(nil, 0)
	}
	return &AutomationService{
		driver:     driver,
		validator:  validator,
		storage:    storage,
		auth:       auth,
		config:     cfg,
		checkpoint: checkpoint,
		sleep:      sleepContext,
	}
}

// NavigateTo opens rawURL, restoring a saved session for its domain first
// and handling a login wall if one appears.
func (s *AutomationService) NavigateTo(ctx context.Context, rawURL string) *NavigationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigateLocked(ctx, rawURL)
}

// TakeScreenshot navigates to rawURL and captures the page to path.
func (s *AutomationService) TakeScreenshot(ctx context.Context, rawURL, path string) *NavigationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.navigateLocked(ctx, rawURL)
	if res.AuthFailed || (res.Status != StatusLoaded && res.Status != StatusPartial) {
		return res
	}
	if err := s.driver.Screenshot(path); err != nil {
		debugLog.Errorf("Screenshot of %s failed: %v", rawURL, err)
		res.Success = false
		res.Error = fmt.Sprintf("screenshot failed: %v", err)
		res.Message = "The page loaded but the screenshot could not be written."
		return res
	}
	res.ScreenshotPath = path
	res.Message = strings.TrimSpace(res.Message + " Screenshot saved to " + path + ".")
	return res
}

// SaveCurrentSession stores the auth part of the current browser storage
// under name, keyed by the current page's domain.
func (s *AutomationService) SaveCurrentSession(ctx context.Context, name string) (*SavedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.storage == nil {
		return nil, errors.New("session storage is not configured")
	}
	return s.saveLocked(name, DomainFromURL(s.driver.URL()))
}

// Close shuts the browser down.
func (s *AutomationService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver.Close()
}

func (s *AutomationService) navigateLocked(ctx context.Context, rawURL string) *NavigationResult {
	domain := DomainFromURL(rawURL)
	if s.config.RestoreSessions && s.storage != nil {
		s.restoreSession(domain)
	}

	load := s.validator.NavigateWithValidation(ctx, NavigateOptions{URL: rawURL})
	res := &NavigationResult{PageLoadResult: *load}

	current := s.driver.URL()
	if !IsLoginPage(current) {
		if res.Success {
			res.Message = fmt.Sprintf("Loaded %s.", res.FinalURL)
		} else {
			res.Message = fmt.Sprintf("Could not load %s (%s): %s", rawURL, res.Status, res.Error)
			res.Suggestions = navigationSuggestions(load)
		}
		return res
	}

	debugLog.Infof("Login wall at %s while navigating to %s", current, rawURL)
	res.AuthRequired = true

	if !s.awaitLogin(ctx, current) {
		return authFailure(res, "Authentication was not completed.")
	}

	if err := s.sleep(ctx, s.config.RedirectSettle); err != nil {
		return authFailure(res, "Navigation was cancelled while waiting for the login redirect.")
	}
	if !s.waitForLoginExit(ctx) {
		return authFailure(res, fmt.Sprintf("Still on a login page %s after the login was confirmed.", s.config.AuthPollTimeout))
	}

	res.AuthCompleted = true
	res.FinalURL = s.driver.URL()
	finalDomain := DomainFromURL(res.FinalURL)
	s.auth.MarkAuthenticated(finalDomain)

	validations, ok := s.validator.ValidateCurrentPage(ctx)
	res.Validations = validations
	if ok {
		res.Success = true
		res.Status = StatusLoaded
		res.Error = ""
		res.Message = fmt.Sprintf("Authenticated and loaded %s.", res.FinalURL)
	} else {
		res.Success = false
		res.Status = StatusPartial
		res.Error = ErrValidationFailed.Error()
		res.Message = fmt.Sprintf("Authenticated, but %s did not pass validation.", res.FinalURL)
		res.Suggestions = navigationSuggestions(&res.PageLoadResult)
	}

	if s.config.AutoSaveSessions && s.storage != nil {
		saved, err := s.saveLocked("auto:"+finalDomain, finalDomain)
		if err != nil {
			debugLog.Warnf("Auto-saving session for %s failed: %v", finalDomain, err)
		} else {
			res.SessionSaved = true
			res.SessionID = saved.ID
		}
	}
	return res
}

func (s *AutomationService) awaitLogin(ctx context.Context, loginURL string) bool {
	if s.checkpoint != nil {
		ok, err := s.checkpoint(ctx, loginURL)
		if err != nil {
			debugLog.Warnf("Login checkpoint failed: %v", err)
			return false
		}
		return ok
	}
	return s.auth.PromptUserForAuth(ctx, loginURL) == AuthCompleted
}

// waitForLoginExit polls until the page leaves the login set or the poll
// window closes.
func (s *AutomationService) waitForLoginExit(ctx context.Context) bool {
	polls := int(s.config.AuthPollTimeout / s.config.AuthPollInterval)
	for i := 0; ; i++ {
		if !IsLoginPage(s.driver.URL()) {
			return true
		}
		if i >= polls {
			return false
		}
		if err := s.sleep(ctx, s.config.AuthPollInterval); err != nil {
			return false
		}
	}
}

func (s *AutomationService) restoreSession(domain string) bool {
	session, err := s.storage.GetSessionForDomain(domain)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			debugLog.Warnf("Session lookup for %s failed: %v", domain, err)
		}
		return false
	}
	state, err := s.storage.LoadSessionState(session.ID)
	if err != nil {
		debugLog.Warnf("Loading session %s failed: %v", session.ID, err)
		return false
	}
	if len(state.Cookies) == 0 {
		return false
	}
	if err := s.driver.AddCookies(state.Cookies); err != nil {
		debugLog.Warnf("Restoring cookies of session %s failed: %v", session.ID, err)
		return false
	}
	debugLog.Infof("Restored session %s (%d cookies) for %s", session.ID, len(state.Cookies), domain)
	return true
}

func (s *AutomationService) saveLocked(name, domain string) (*SavedSession, error) {
	state, err := s.driver.StorageState()
	if err != nil {
		return nil, fmt.Errorf("failed to read browser storage: %w", err)
	}
	return s.storage.SaveSession(name, domain, state)
}

func authFailure(res *NavigationResult, message string) *NavigationResult {
	res.Success = false
	res.AuthFailed = true
	res.Message = message
	res.Suggestions = []string{
		"Complete the login in the browser window, then retry the navigation.",
		"If a stale saved session keeps redirecting to the login page, clear saved sessions and log in again.",
	}
	return res
}

func navigationSuggestions(r *PageLoadResult) []string {
	switch r.Status {
	case StatusTimeout:
		return []string{
			"The page took too long to respond; check that the server is running.",
			"Retry with a longer timeout.",
		}
	case StatusBlocked:
		return []string{
			"The request was blocked; check ad blockers, proxies or firewall rules.",
		}
	case StatusPartial:
		var failed []string
		for _, v := range r.Validations {
			if !v.Passed {
				failed = append(failed, v.Name+" ("+v.Message+")")
			}
		}
		return []string{
			"The page loaded but failed checks: " + strings.Join(failed, "; ") + ".",
			"Inspect a screenshot of the page to see what rendered.",
		}
	default:
		return []string{
			"Check the URL and that the server answers without an HTTP error.",
			"Look at the server logs for the failing request.",
		}
	}
}
