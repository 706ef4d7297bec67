package browser

import (
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultSSODomains are identity provider domains whose cookies are always
// kept. Patterns are globs matched against the lowercased cookie domain.
var DefaultSSODomains = []string{
	"*.okta.com",
	"*.oktapreview.com",
	"*.okta-emea.com",
	"login.microsoftonline.com",
	"login.microsoft.com",
	"login.live.com",
	"accounts.google.com",
	"*.auth0.com",
	"*.onelogin.com",
	"*.pingidentity.com",
	"*.pingone.com",
	"*.duosecurity.com",
	"*.b2clogin.com",
	"*.amazoncognito.com",
	"sso.*",
	"*.sso.*",
}

// AuthCookiePatterns match names of cookies and storage keys that carry
// authentication state.
var AuthCookiePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sess(ion)?`),
	regexp.MustCompile(`(?i)token`),
	regexp.MustCompile(`(?i)jwt`),
	regexp.MustCompile(`(?i)oauth`),
	regexp.MustCompile(`(?i)openid|oidc`),
	regexp.MustCompile(`(?i)saml`),
	regexp.MustCompile(`(?i)csrf|xsrf`),
	regexp.MustCompile(`(?i)auth`),
	regexp.MustCompile(`(?i)^sid$|[_.-]sid$|^sid[_.-]`),
	regexp.MustCompile(`(?i)login`),
	regexp.MustCompile(`(?i)credential`),
	regexp.MustCompile(`(?i)remember`),
	regexp.MustCompile(`(?i)identity|^id_`),
	regexp.MustCompile(`(?i)refresh`),
}

// CacheCookiePatterns match tracking, analytics and cache entries. These
// are dropped even when they look like auth state.
var CacheCookiePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^_ga`),
	regexp.MustCompile(`^_gid$`),
	regexp.MustCompile(`^_gat`),
	regexp.MustCompile(`^_gcl`),
	regexp.MustCompile(`^_fbp$`),
	regexp.MustCompile(`^_hj`),
	regexp.MustCompile(`^__utm`),
	regexp.MustCompile(`^ajs_`),
	regexp.MustCompile(`^mp_`),
	regexp.MustCompile(`^amplitude`),
	regexp.MustCompile(`^intercom-`),
	regexp.MustCompile(`^optimizely`),
	regexp.MustCompile(`(?i)analytics`),
	regexp.MustCompile(`(?i)tracking`),
	regexp.MustCompile(`(?i)cache`),
	regexp.MustCompile(`(?i)^(theme|locale|lang|tz|timezone)$`),
	regexp.MustCompile(`(?i)consent`),
}

// FilterResult is a filtered storage state plus what was kept and dropped.
type FilterResult struct {
	State               StorageState
	KeptCookies         int
	DroppedCookies      int
	KeptLocalStorage    int
	DroppedLocalStorage int
}

// AuthFilter reduces a storage snapshot to its authentication state.
type AuthFilter struct {
	ssoDomains []glob.Glob
	auth       []*regexp.Regexp
	cache      []*regexp.Regexp
}

// NewAuthFilter compiles the SSO domain globs. Invalid globs are skipped.
func NewAuthFilter(ssoDomains []string) *AuthFilter {
	f := &AuthFilter{auth: AuthCookiePatterns, cache: CacheCookiePatterns}
	for _, pattern := range ssoDomains {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			debugLog.Warnf("Skipping invalid SSO domain pattern %q: %v", pattern, err)
			continue
		}
		f.ssoDomains = append(f.ssoDomains, g)
	}
	return f
}

var defaultFilter = NewAuthFilter(DefaultSSODomains)

// FilterAuthOnly filters state with the default SSO domains.
func FilterAuthOnly(state StorageState) FilterResult {
	return defaultFilter.Filter(state)
}

// Filter keeps auth cookies and auth localStorage entries.
func (f *AuthFilter) Filter(state StorageState) FilterResult {
	var res FilterResult
	res.State.Cookies = []Cookie{}
	res.State.Origins = []SessionOrigin{}

	for _, c := range state.Cookies {
		if f.KeepCookie(c) {
			res.State.Cookies = append(res.State.Cookies, c)
			res.KeptCookies++
		} else {
			res.DroppedCookies++
		}
	}

	for _, origin := range state.Origins {
		var kept []StorageEntry
		for _, entry := range origin.LocalStorage {
			if f.isAuth(entry.Name) && !f.isCache(entry.Name) {
				kept = append(kept, entry)
				res.KeptLocalStorage++
			} else {
				res.DroppedLocalStorage++
			}
		}
		if len(kept) > 0 {
			res.State.Origins = append(res.State.Origins, SessionOrigin{Origin: origin.Origin, LocalStorage: kept})
		}
	}

	debugLog.Debugf("Filtered storage state: kept %d/%d cookies, %d/%d localStorage entries",
		res.KeptCookies, res.KeptCookies+res.DroppedCookies,
		res.KeptLocalStorage, res.KeptLocalStorage+res.DroppedLocalStorage)
	return res
}

// KeepCookie decides a single cookie. SSO provider cookies are always
// kept; cache and tracking names are dropped before the auth-name and
// httpOnly+secure checks.
func (f *AuthFilter) KeepCookie(c Cookie) bool {
	if f.IsSSODomain(c.Domain) {
		return true
	}
	if f.isCache(c.Name) {
		return false
	}
	if f.isAuth(c.Name) {
		return true
	}
	return c.HTTPOnly && c.Secure
}

// IsSSODomain reports whether domain belongs to a known identity provider.
func (f *AuthFilter) IsSSODomain(domain string) bool {
	d := strings.TrimPrefix(strings.ToLower(domain), ".")
	for _, g := range f.ssoDomains {
		if g.Match(d) {
			return true
		}
	}
	return false
}

func (f *AuthFilter) isAuth(name string) bool {
	return matchAny(f.auth, name)
}

func (f *AuthFilter) isCache(name string) bool {
	return matchAny(f.cache, name)
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
