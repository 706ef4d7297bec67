// Package browser navigates web pages with validation and retry, detects
// login walls, and persists the authentication part of browser sessions.
//
// # Architecture
//
// The package is built around a narrow PageDriver interface and four
// components layered on top of it:
//
//  1. Validator: navigates, waits for the page to settle, validates what
//     loaded and retries with escalating recovery strategies
//  2. SessionStorage: filters a browser storage snapshot down to its
//     authentication cookies and tokens and stores it per domain
//  3. AuthSessionManager: classifies login pages and gates on a person
//     completing the login
//  4. AutomationService: combines the three above into NavigateTo and
//     TakeScreenshot
//
// PlaywrightDriver is the production PageDriver. Tests use an in-package
// fake, so all navigation, retry and session logic runs without a browser.
//
// # Navigation Outcomes
//
// Navigation never returns an error. Every outcome is a PageLoadResult
// whose Status is one of loaded, partial, timeout, blocked or error.
// Authentication problems are reported separately through the
// AuthRequired and AuthFailed flags of NavigationResult, so callers can
// tell "could not reach the page" apart from "reached it but the login
// did not complete".
//
// # Session Filtering
//
// Only authentication state is persisted. Cookies lean toward keeping
// (SSO provider domains, auth-looking names and httpOnly+secure cookies
// survive); localStorage leans toward dropping (only auth-looking keys
// survive). Tracking and cache cookies are always dropped.
//
// # Concurrency
//
// One AutomationService owns exactly one browser, context and page.
// Its operations are serialized; run separate services for concurrent
// missions.
package browser

import "github.com/entrhq/phaseguard/pkg/logging"

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("browser")
	if err != nil {
		debugLog.Warnf("Failed to initialize browser logger, using stderr fallback: %v", err)
	}
}
