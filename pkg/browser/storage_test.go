package browser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) (*SessionStorage, *fakeClock) {
	t.Helper()
	s, err := NewSessionStorage(t.TempDir())
	require.NoError(t, err)
	clock := newFakeClock()
	s.now = clock.Now
	return s, clock
}

func authState(expires float64) StorageState {
	return StorageState{
		Cookies: []Cookie{
			{Name: "session_id", Value: "abc", Domain: "app.example.com", Path: "/", Expires: expires, HTTPOnly: true, Secure: true},
			{Name: "_ga", Value: "GA1", Domain: ".example.com", Path: "/", Expires: expires - 100},
		},
		Origins: []SessionOrigin{{
			Origin:       "https://app.example.com",
			LocalStorage: []StorageEntry{{Name: "access_token", Value: "t"}, {Name: "layout", Value: "grid"}},
		}},
	}
}

func TestSessionStorage_SaveAndLoad(t *testing.T) {
	s, clock := newTestStorage(t)
	expires := float64(clock.Now().Add(2 * time.Hour).Unix())

	saved, err := s.SaveSession("work", "App.Example.com", authState(expires))
	require.NoError(t, err)

	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "app.example.com", saved.Domain)
	assert.Equal(t, 1, saved.CookieCount)
	assert.Equal(t, []string{"access_token"}, saved.LocalStorageKeys)
	require.NotNil(t, saved.ExpiresAt)
	// The dropped _ga cookie expires earlier but does not count.
	assert.Equal(t, clock.Now().Add(2*time.Hour), *saved.ExpiresAt)
	assert.FileExists(t, saved.FilePath)
	assert.FileExists(t, filepath.Join(s.Dir(), "index.json"))

	state, err := s.LoadSessionState(saved.ID)
	require.NoError(t, err)
	require.Len(t, state.Cookies, 1)
	assert.Equal(t, "session_id", state.Cookies[0].Name)
	require.Len(t, state.Origins, 1)
	assert.Equal(t, []StorageEntry{{Name: "access_token", Value: "t"}}, state.Origins[0].LocalStorage)
}

func TestSessionStorage_SessionCookiesGetDefaultTTL(t *testing.T) {
	s, clock := newTestStorage(t)

	saved, err := s.SaveSession("work", "app.example.com", authState(-1))
	require.NoError(t, err)

	require.NotNil(t, saved.ExpiresAt)
	assert.Equal(t, clock.Now().Add(DefaultSessionTTL), *saved.ExpiresAt)
}

func TestSessionStorage_GetSessionForDomain(t *testing.T) {
	s, clock := newTestStorage(t)
	expires := float64(clock.Now().Add(time.Hour).Unix())

	older, err := s.SaveSession("first", "example.com", authState(expires))
	require.NoError(t, err)
	clock.now = clock.now.Add(time.Minute)
	newer, err := s.SaveSession("second", "app.example.com", authState(expires))
	require.NoError(t, err)

	got, err := s.GetSessionForDomain("app.example.com")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	// Stored domain contained in the query.
	got, err = s.GetSessionForDomain("eu.app.example.com")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	// Query contained in the stored domain.
	got, err = s.GetSessionForDomain("example.com")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	_, err = s.GetSessionForDomain("other.org")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, s.DeleteSession(newer.ID))
	got, err = s.GetSessionForDomain("example.com")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)
	assert.NoFileExists(t, newer.FilePath)
}

func TestSessionStorage_ExpiredSessionsAreSkippedAndCleaned(t *testing.T) {
	s, clock := newTestStorage(t)
	soon := float64(clock.Now().Add(10 * time.Minute).Unix())
	later := float64(clock.Now().Add(3 * time.Hour).Unix())

	short, err := s.SaveSession("short", "app.example.com", authState(soon))
	require.NoError(t, err)
	long, err := s.SaveSession("long", "api.example.com", authState(later))
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Hour)

	_, err = s.GetSessionForDomain("app.example.com")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	removed, err := s.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, short.FilePath)

	sessions, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, long.ID, sessions[0].ID)

	removed, err = s.CleanupExpired()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSessionStorage_ListNewestFirstAndClearAll(t *testing.T) {
	s, clock := newTestStorage(t)

	a, err := s.SaveSession("a", "a.example.com", authState(-1))
	require.NoError(t, err)
	clock.now = clock.now.Add(time.Second)
	b, err := s.SaveSession("b", "b.example.com", authState(-1))
	require.NoError(t, err)

	sessions, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, b.ID, sessions[0].ID)
	assert.Equal(t, a.ID, sessions[1].ID)

	require.NoError(t, s.ClearAll())
	sessions, err = s.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.NoFileExists(t, a.FilePath)
	assert.NoFileExists(t, b.FilePath)
}

func TestSessionStorage_MissingSession(t *testing.T) {
	s, _ := newTestStorage(t)

	_, err := s.LoadSessionState("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.DeleteSession("nope"), ErrSessionNotFound)

	sessions, err := s.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionStorage_CorruptIndex(t *testing.T) {
	s, _ := newTestStorage(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "index.json"), []byte("{not json"), 0600))

	_, err := s.ListSessions()
	assert.Error(t, err)
	_, err = s.SaveSession("x", "x.com", StorageState{})
	assert.Error(t, err)
}

func TestDomainFromURL(t *testing.T) {
	assert.Equal(t, "app.example.com", DomainFromURL("https://App.Example.com:8443/path?q=1"))
	assert.Equal(t, "example.com", DomainFromURL("example.com"))
}
