package browser

import (
	"time"
)

// LoadState is a page lifecycle milestone a driver can wait for.
type LoadState string

const (
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateLoad             LoadState = "load"
	LoadStateNetworkIdle      LoadState = "networkidle"
)

// PageDriver is the subset of a browser engine this package needs. A
// driver owns exactly one page at a time.
type PageDriver interface {
	// Navigate loads url and returns the main document's HTTP status, or 0
	// when the engine reports none.
	Navigate(url string, timeout time.Duration) (int, error)
	// Reload reloads the current page. A hard reload bypasses the cache.
	Reload(hard bool, timeout time.Duration) (int, error)

	URL() string
	Title() (string, error)
	Content() (string, error)
	IsVisible(selector string) (bool, error)
	WaitForSelector(selector string, timeout time.Duration) error
	WaitForLoadState(state LoadState, timeout time.Duration) error
	Evaluate(expression string) (interface{}, error)
	Screenshot(path string) error

	ClearCache() error
	ClearCookies() error
	// NewContext discards the current context and page and opens fresh
	// ones. Request listeners stay registered.
	NewContext() error

	StorageState() (StorageState, error)
	AddCookies(cookies []Cookie) error

	// OnRequest registers a listener called with the time of every
	// outgoing request.
	OnRequest(listener func(time.Time))

	Close() error
}

// Cookie mirrors a browser cookie. Expires is in unix seconds; -1 (or 0)
// marks a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// HasExpiry reports whether the cookie outlives the browser session.
func (c Cookie) HasExpiry() bool {
	return c.Expires > 0
}

// ExpiresAt converts Expires to a time. Only meaningful when HasExpiry.
func (c Cookie) ExpiresAt() time.Time {
	sec := int64(c.Expires)
	nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// StorageEntry is one localStorage key/value pair.
type StorageEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SessionOrigin holds the localStorage of one origin.
type SessionOrigin struct {
	Origin       string         `json:"origin"`
	LocalStorage []StorageEntry `json:"localStorage"`
}

// StorageState is a browser storage snapshot in the shape browsers export.
type StorageState struct {
	Cookies []Cookie        `json:"cookies"`
	Origins []SessionOrigin `json:"origins"`
}
