package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL bounds sessions whose kept cookies carry no expiry.
const DefaultSessionTTL = 24 * time.Hour

const indexFileName = "index.json"

// ErrSessionNotFound is returned when no stored session matches.
var ErrSessionNotFound = errors.New("session not found")

// SavedSession is the index record of one persisted session.
type SavedSession struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Domain           string     `json:"domain"`
	SavedAt          time.Time  `json:"savedAt"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	CookieCount      int        `json:"cookieCount"`
	LocalStorageKeys []string   `json:"localStorageKeys"`
	FilePath         string     `json:"filePath"`
}

// Expired reports whether the session is past its expiry at now.
func (s SavedSession) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// SessionStorage persists filtered storage states, one JSON file per
// session plus an index.
type SessionStorage struct {
	mu     sync.Mutex
	dir    string
	filter *AuthFilter
	now    func() time.Time
}

// DefaultSessionDir returns ~/.phaseguard/sessions.
func DefaultSessionDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".phaseguard", "sessions"), nil
}

// NewSessionStorage creates a store rooted at dir, or at the default
// directory when dir is empty.
func NewSessionStorage(dir string) (*SessionStorage, error) {
	if dir == "" {
		d, err := DefaultSessionDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &SessionStorage{
		dir:    dir,
		filter: defaultFilter,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetSSODomains replaces the identity provider globs used when filtering.
func (s *SessionStorage) SetSSODomains(patterns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = NewAuthFilter(patterns)
}

// Dir returns the storage directory.
func (s *SessionStorage) Dir() string {
	return s.dir
}

// SaveSession filters state to its auth part and stores it under a new
// id. Earlier sessions for the same domain are kept; lookups prefer the
// newest.
func (s *SessionStorage) SaveSession(name, domain string, state StorageState) (*SavedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.filter.Filter(state)
	now := s.now()

	session := SavedSession{
		ID:               uuid.New().String(),
		Name:             name,
		Domain:           strings.ToLower(domain),
		SavedAt:          now,
		CookieCount:      filtered.KeptCookies,
		LocalStorageKeys: []string{},
	}
	session.FilePath = filepath.Join(s.dir, session.ID+".json")
	for _, origin := range filtered.State.Origins {
		for _, entry := range origin.LocalStorage {
			session.LocalStorageKeys = append(session.LocalStorageKeys, entry.Name)
		}
	}

	expires := sessionExpiry(filtered.State.Cookies)
	if expires == nil {
		t := now.Add(DefaultSessionTTL)
		expires = &t
	}
	session.ExpiresAt = expires

	index, err := s.readIndexLocked()
	if err != nil {
		return nil, err
	}
	if err := writeJSONAtomic(session.FilePath, filtered.State); err != nil {
		return nil, fmt.Errorf("failed to write session file: %w", err)
	}
	index = append(index, session)
	if err := s.writeIndexLocked(index); err != nil {
		_ = os.Remove(session.FilePath)
		return nil, err
	}

	debugLog.Infof("Saved session %s for %s (%d cookies, %d localStorage keys)",
		session.ID, session.Domain, session.CookieCount, len(session.LocalStorageKeys))
	return &session, nil
}

// GetSessionForDomain returns the newest non-expired session whose domain
// contains, or is contained in, domain.
func (s *SessionStorage) GetSessionForDomain(domain string) (*SavedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := strings.ToLower(strings.TrimPrefix(domain, "."))
	if query == "" {
		return nil, ErrSessionNotFound
	}
	index, err := s.readIndexLocked()
	if err != nil {
		return nil, err
	}

	now := s.now()
	var best *SavedSession
	for i := range index {
		candidate := index[i]
		if candidate.Expired(now) || !domainsMatch(candidate.Domain, query) {
			continue
		}
		if best == nil || candidate.SavedAt.After(best.SavedAt) {
			best = &candidate
		}
	}
	if best == nil {
		return nil, ErrSessionNotFound
	}
	return best, nil
}

// LoadSessionState reads the stored storage state of session id.
func (s *SessionStorage) LoadSessionState(id string) (StorageState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.findLocked(id)
	if err != nil {
		return StorageState{}, err
	}
	data, err := os.ReadFile(session.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StorageState{}, ErrSessionNotFound
		}
		return StorageState{}, fmt.Errorf("failed to read session file: %w", err)
	}
	var state StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return StorageState{}, fmt.Errorf("failed to parse session file: %w", err)
	}
	return state, nil
}

// ListSessions returns all index records, newest first.
func (s *SessionStorage) ListSessions() ([]SavedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndexLocked()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(index, func(i, j int) bool {
		return index[i].SavedAt.After(index[j].SavedAt)
	})
	return index, nil
}

// DeleteSession removes session id and its file.
func (s *SessionStorage) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndexLocked()
	if err != nil {
		return err
	}
	kept := index[:0]
	var removed *SavedSession
	for i := range index {
		if index[i].ID == id {
			r := index[i]
			removed = &r
			continue
		}
		kept = append(kept, index[i])
	}
	if removed == nil {
		return ErrSessionNotFound
	}
	if err := s.writeIndexLocked(kept); err != nil {
		return err
	}
	removeQuiet(removed.FilePath)
	debugLog.Infof("Deleted session %s", id)
	return nil
}

// CleanupExpired deletes every expired session and returns how many were
// removed.
func (s *SessionStorage) CleanupExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndexLocked()
	if err != nil {
		return 0, err
	}
	now := s.now()
	var kept, expired []SavedSession
	for _, session := range index {
		if session.Expired(now) {
			expired = append(expired, session)
		} else {
			kept = append(kept, session)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.writeIndexLocked(kept); err != nil {
		return 0, err
	}
	for _, session := range expired {
		removeQuiet(session.FilePath)
	}
	debugLog.Infof("Removed %d expired sessions", len(expired))
	return len(expired), nil
}

// ClearAll deletes every stored session.
func (s *SessionStorage) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndexLocked()
	if err != nil {
		return err
	}
	for _, session := range index {
		removeQuiet(session.FilePath)
	}
	if err := s.writeIndexLocked(nil); err != nil {
		return err
	}
	debugLog.Infof("Cleared %d sessions", len(index))
	return nil
}

func (s *SessionStorage) findLocked(id string) (*SavedSession, error) {
	index, err := s.readIndexLocked()
	if err != nil {
		return nil, err
	}
	for i := range index {
		if index[i].ID == id {
			return &index[i], nil
		}
	}
	return nil, ErrSessionNotFound
}

func (s *SessionStorage) readIndexLocked() ([]SavedSession, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	var index []SavedSession
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse session index: %w", err)
	}
	return index, nil
}

func (s *SessionStorage) writeIndexLocked(index []SavedSession) error {
	if index == nil {
		index = []SavedSession{}
	}
	if err := writeJSONAtomic(filepath.Join(s.dir, indexFileName), index); err != nil {
		return fmt.Errorf("failed to write session index: %w", err)
	}
	return nil
}

// sessionExpiry is the earliest expiry among cookies that have one.
func sessionExpiry(cookies []Cookie) *time.Time {
	var earliest *time.Time
	for _, c := range cookies {
		if !c.HasExpiry() {
			continue
		}
		t := c.ExpiresAt()
		if earliest == nil || t.Before(*earliest) {
			earliest = &t
		}
	}
	return earliest
}

func domainsMatch(stored, query string) bool {
	stored = strings.TrimPrefix(stored, ".")
	if stored == "" {
		return false
	}
	return strings.Contains(query, stored) || strings.Contains(stored, query)
}

// DomainFromURL returns the lowercased host of raw, or raw itself when it
// does not parse as a URL with a host.
func DomainFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(raw)
	}
	return strings.ToLower(u.Hostname())
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func removeQuiet(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		debugLog.Warnf("Failed to remove session file %s: %v", path, err)
	}
}
