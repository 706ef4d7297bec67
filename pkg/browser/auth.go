package browser

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/phaseguard/pkg/metrics"
)

// DefaultAuthTimeout is how long a person has to finish logging in.
const DefaultAuthTimeout = 5 * time.Minute

// AuthOutcome is how an authentication prompt resolved.
type AuthOutcome string

const (
	AuthCompleted AuthOutcome = "completed"
	AuthCancelled AuthOutcome = "cancelled"
	AuthTimeout   AuthOutcome = "timeout"
)

// AuthPrompt tells a person which page needs a login.
type AuthPrompt struct {
	URL     string
	Domain  string
	Message string
}

// Prompter asks a person to complete a login in the browser and blocks
// until they confirm, cancel, or ctx ends.
type Prompter interface {
	PromptForAuth(ctx context.Context, prompt AuthPrompt) (AuthOutcome, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, prompt AuthPrompt) (AuthOutcome, error)

// PromptForAuth calls f.
func (f PrompterFunc) PromptForAuth(ctx context.Context, prompt AuthPrompt) (AuthOutcome, error) {
	return f(ctx, prompt)
}

// LoginPatterns identify login and SSO pages by URL.
var LoginPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/login\b`),
	regexp.MustCompile(`(?i)/log-in\b`),
	regexp.MustCompile(`(?i)/signin\b`),
	regexp.MustCompile(`(?i)/sign-in\b`),
	regexp.MustCompile(`(?i)/sign_in\b`),
	regexp.MustCompile(`(?i)/auth(orize)?\b`),
	regexp.MustCompile(`(?i)/oauth2?/`),
	regexp.MustCompile(`(?i)/sso\b`),
	regexp.MustCompile(`(?i)/saml2?/`),
	regexp.MustCompile(`(?i)/adfs/`),
	regexp.MustCompile(`(?i)/cas/login`),
	regexp.MustCompile(`(?i)/openid`),
	regexp.MustCompile(`(?i)://[^/]*\.okta(preview)?\.com`),
	regexp.MustCompile(`(?i)://login\.microsoftonline\.com`),
	regexp.MustCompile(`(?i)://accounts\.google\.com`),
	regexp.MustCompile(`(?i)://[^/]*\.auth0\.com`),
	regexp.MustCompile(`(?i)://[^/]*\.onelogin\.com`),
	regexp.MustCompile(`(?i)://[^/]*\.(pingidentity|pingone)\.com`),
	regexp.MustCompile(`(?i)://[^/]*\.duosecurity\.com`),
}

// NotLoginPatterns win over LoginPatterns so logout pages are not
// mistaken for login walls.
var NotLoginPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/log-?out\b`),
	regexp.MustCompile(`(?i)/sign-?out\b`),
	regexp.MustCompile(`(?i)/signed-?out\b`),
	regexp.MustCompile(`(?i)/logged-?out\b`),
	regexp.MustCompile(`(?i)/session-?ended\b`),
}

// IsLoginPage classifies rawURL as a login wall.
func IsLoginPage(rawURL string) bool {
	if matchAny(NotLoginPatterns, rawURL) {
		return false
	}
	return matchAny(LoginPatterns, rawURL)
}

// AuthSessionManager gates navigation on a person completing a login and
// remembers which domains have authenticated in this process.
type AuthSessionManager struct {
	prompter Prompter
	timeout  time.Duration
	recorder *metrics.Recorder

	mu            sync.Mutex
	authenticated map[string]time.Time
	now           func() time.Time
}

// NewAuthSessionManager creates a manager. A zero timeout uses
// DefaultAuthTimeout. A nil prompter makes every prompt resolve to
// cancelled.
func NewAuthSessionManager(prompter Prompter, timeout time.Duration) *AuthSessionManager {
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}
	return &AuthSessionManager{
		prompter:      prompter,
		timeout:       timeout,
		authenticated: make(map[string]time.Time),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetRecorder attaches a metrics recorder.
func (m *AuthSessionManager) SetRecorder(r *metrics.Recorder) {
	m.recorder = r
}

// IsLoginPage reports whether rawURL is a login wall.
func (m *AuthSessionManager) IsLoginPage(rawURL string) bool {
	return IsLoginPage(rawURL)
}

// PromptUserForAuth asks the prompter to wait for a login. The wait ends
// after the manager's timeout even if the prompter does not return.
func (m *AuthSessionManager) PromptUserForAuth(ctx context.Context, rawURL string) AuthOutcome {
	outcome := m.prompt(ctx, rawURL)
	m.recorder.AuthPrompt(string(outcome))
	debugLog.Infof("Auth prompt for %s resolved: %s", rawURL, outcome)
	return outcome
}

func (m *AuthSessionManager) prompt(ctx context.Context, rawURL string) AuthOutcome {
	if m.prompter == nil {
		debugLog.Warnf("No auth prompter configured; treating login at %s as cancelled", rawURL)
		return AuthCancelled
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	domain := DomainFromURL(rawURL)
	p := AuthPrompt{
		URL:     rawURL,
		Domain:  domain,
		Message: "Log in to " + domain + " in the browser window, then confirm here.",
	}

	type reply struct {
		outcome AuthOutcome
		err     error
	}
	done := make(chan reply, 1)
	go func() {
		outcome, err := m.prompter.PromptForAuth(ctx, p)
		done <- reply{outcome, err}
	}()

	select {
	case r := <-done:
		switch {
		case r.err == nil && r.outcome != "":
			return r.outcome
		case errors.Is(r.err, context.DeadlineExceeded):
			return AuthTimeout
		case r.err != nil:
			debugLog.Warnf("Auth prompter failed: %v", r.err)
		}
		return AuthCancelled
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return AuthTimeout
		}
		return AuthCancelled
	}
}

// MarkAuthenticated records that domain completed a login.
func (m *AuthSessionManager) MarkAuthenticated(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated[strings.ToLower(domain)] = m.now()
}

// IsAuthenticated reports whether domain completed a login in this
// process.
func (m *AuthSessionManager) IsAuthenticated(domain string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.authenticated[strings.ToLower(domain)]
	return ok
}

// ClearAuthenticated forgets every authenticated domain.
func (m *AuthSessionManager) ClearAuthenticated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = make(map[string]time.Time)
}
