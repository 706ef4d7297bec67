package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginURL = "https://corp.okta.com/login?fromURI=/app"

type serviceFixture struct {
	driver  *fakeDriver
	clock   *fakeClock
	storage *SessionStorage
	auth    *AuthSessionManager
	service *AutomationService
}

func newServiceFixture(t *testing.T, checkpoint LoginCheckpoint, prompter Prompter) *serviceFixture {
	t.Helper()
	d := newFakeDriver()
	d.addPage(appURL, fakePage{status: 200, title: "Dashboard", html: richHTML})
	d.addPage(loginURL, fakePage{status: 200, title: "Sign In", html: `<body><form><label>Username</label><input name="u"><button>Next</button></form></body>`})

	v, clock := newTestValidator(d, ValidatorConfig{})
	storage, err := NewSessionStorage(t.TempDir())
	require.NoError(t, err)
	storage.now = clock.Now
	auth := NewAuthSessionManager(prompter, time.Second)

	svc := NewAutomationService(d, v, storage, auth, DefaultAutomationConfig(), checkpoint)
	svc.sleep = clock.Sleep
	return &serviceFixture{driver: d, clock: clock, storage: storage, auth: auth, service: svc}
}

// completeLogin simulates the identity provider redirecting back to the
// app with a session cookie set.
func (f *serviceFixture) completeLogin() {
	f.driver.mu.Lock()
	defer f.driver.mu.Unlock()
	f.driver.url = appURL
	f.driver.storage = StorageState{
		Cookies: []Cookie{
			{Name: "session_id", Value: "s3cr3t", Domain: "app.example.com", Path: "/", Expires: -1, HTTPOnly: true, Secure: true},
			{Name: "_ga", Value: "GA1", Domain: ".example.com", Path: "/", Expires: -1},
		},
	}
}

func TestNavigateTo_NoLoginWall(t *testing.T) {
	f := newServiceFixture(t, nil, nil)

	res := f.service.NavigateTo(context.Background(), appURL)

	assert.True(t, res.Success)
	assert.False(t, res.AuthRequired)
	assert.False(t, res.SessionSaved)
	assert.Contains(t, res.Message, appURL)
	assert.Empty(t, res.Suggestions)
}

func TestNavigateTo_NavigationFailureHasSuggestions(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	f.driver.addPage(appURL, fakePage{status: 503})

	res := f.service.NavigateTo(context.Background(), appURL)

	assert.False(t, res.Success)
	assert.False(t, res.AuthRequired)
	assert.False(t, res.AuthFailed)
	assert.Equal(t, StatusError, res.Status)
	assert.NotEmpty(t, res.Suggestions)
}

func TestNavigateTo_LoginCheckpointCompletes(t *testing.T) {
	var f *serviceFixture
	var checkpointURL string
	f = newServiceFixture(t, func(ctx context.Context, url string) (bool, error) {
		checkpointURL = url
		f.completeLogin()
		return true, nil
	}, nil)
	f.driver.redirects[appURL] = loginURL

	res := f.service.NavigateTo(context.Background(), appURL)

	assert.Equal(t, loginURL, checkpointURL)
	assert.True(t, res.AuthRequired)
	assert.True(t, res.AuthCompleted)
	assert.False(t, res.AuthFailed)
	assert.True(t, res.Success)
	assert.Equal(t, StatusLoaded, res.Status)
	assert.Equal(t, appURL, res.FinalURL)
	assert.True(t, f.auth.IsAuthenticated("app.example.com"))

	require.True(t, res.SessionSaved)
	saved, err := f.storage.GetSessionForDomain("app.example.com")
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, saved.ID)
	assert.Equal(t, 1, saved.CookieCount)

	// Redirect settle, then the page had already left the login set.
	assert.Contains(t, f.clock.Sleeps(), 2*time.Second)
}

func TestNavigateTo_LoginCheckpointDeclined(t *testing.T) {
	f := newServiceFixture(t, func(ctx context.Context, url string) (bool, error) {
		return false, nil
	}, nil)
	f.driver.redirects[appURL] = loginURL

	res := f.service.NavigateTo(context.Background(), appURL)

	assert.True(t, res.AuthRequired)
	assert.True(t, res.AuthFailed)
	assert.False(t, res.AuthCompleted)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Suggestions)
	// The page itself loaded; auth failure is reported separately.
	assert.Equal(t, StatusLoaded, res.Status)
}

func TestNavigateTo_LoginCheckpointError(t *testing.T) {
	f := newServiceFixture(t, func(ctx context.Context, url string) (bool, error) {
		return false, errors.New("ui went away")
	}, nil)
	f.driver.redirects[appURL] = loginURL

	res := f.service.NavigateTo(context.Background(), appURL)
	assert.True(t, res.AuthFailed)
}

func TestNavigateTo_StillOnLoginPageAfterPolling(t *testing.T) {
	f := newServiceFixture(t, func(ctx context.Context, url string) (bool, error) {
		return true, nil
	}, nil)
	f.driver.redirects[appURL] = loginURL
	before := len(f.clock.Sleeps())

	res := f.service.NavigateTo(context.Background(), appURL)

	assert.True(t, res.AuthRequired)
	assert.True(t, res.AuthFailed)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Still on a login page")
	assert.False(t, f.auth.IsAuthenticated("app.example.com"))

	sessions, err := f.storage.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// Settle sleep plus one sleep per poll interval across the window.
	var polled time.Duration
	for _, s := range f.clock.Sleeps()[before:] {
		if s == time.Second {
			polled += s
		}
	}
	assert.Equal(t, 60*time.Second, polled)
}

func TestNavigateTo_FallsBackToPrompter(t *testing.T) {
	var f *serviceFixture
	f = newServiceFixture(t, nil, PrompterFunc(func(ctx context.Context, p AuthPrompt) (AuthOutcome, error) {
		f.completeLogin()
		return AuthCompleted, nil
	}))
	f.driver.redirects[appURL] = loginURL

	res := f.service.NavigateTo(context.Background(), appURL)

	assert.True(t, res.AuthCompleted)
	assert.True(t, res.Success)
}

func TestNavigateTo_PrompterCancelled(t *testing.T) {
	f := newServiceFixture(t, nil, PrompterFunc(func(ctx context.Context, p AuthPrompt) (AuthOutcome, error) {
		return AuthCancelled, nil
	}))
	f.driver.redirects[appURL] = loginURL

	res := f.service.NavigateTo(context.Background(), appURL)
	assert.True(t, res.AuthFailed)
}

func TestNavigateTo_RestoresSavedSession(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	_, err := f.storage.SaveSession("earlier", "app.example.com", StorageState{
		Cookies: []Cookie{{Name: "session_id", Value: "abc", Domain: "app.example.com", Path: "/", Expires: -1, HTTPOnly: true, Secure: true}},
	})
	require.NoError(t, err)

	res := f.service.NavigateTo(context.Background(), appURL)

	assert.True(t, res.Success)
	require.Len(t, f.driver.addedCookies, 1)
	assert.Equal(t, "abc", f.driver.addedCookies[0].Value)
}

func TestNavigateTo_RestoreDisabled(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	f.service.config.RestoreSessions = false
	_, err := f.storage.SaveSession("earlier", "app.example.com", StorageState{
		Cookies: []Cookie{{Name: "session_id", Value: "abc", Domain: "app.example.com"}},
	})
	require.NoError(t, err)

	f.service.NavigateTo(context.Background(), appURL)
	assert.Empty(t, f.driver.addedCookies)
}

func TestTakeScreenshot(t *testing.T) {
	f := newServiceFixture(t, nil, nil)

	res := f.service.TakeScreenshot(context.Background(), appURL, "/tmp/shot.png")

	assert.True(t, res.Success)
	assert.Equal(t, "/tmp/shot.png", res.ScreenshotPath)
	assert.Equal(t, []string{"/tmp/shot.png"}, f.driver.screenshots)
}

func TestTakeScreenshot_SkippedWhenNavigationFails(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	f.driver.addPage(appURL, fakePage{status: 500})

	res := f.service.TakeScreenshot(context.Background(), appURL, "/tmp/shot.png")

	assert.False(t, res.Success)
	assert.Empty(t, f.driver.screenshots)
}

func TestSaveCurrentSession(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	f.completeLogin()

	saved, err := f.service.SaveCurrentSession(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, "manual", saved.Name)
	assert.Equal(t, "app.example.com", saved.Domain)
	assert.Equal(t, 1, saved.CookieCount)

	noStore := NewAutomationService(f.driver, nil, nil, nil, DefaultAutomationConfig(), nil)
	_, err = noStore.SaveCurrentSession(context.Background(), "x")
	assert.Error(t, err)
}

func TestAutomationService_Close(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	require.NoError(t, f.service.Close())
	assert.True(t, f.driver.closed)
}
