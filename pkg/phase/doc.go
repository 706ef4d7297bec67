// Package phase plans and tracks phased missions.
//
// A Generator turns a requirement into dependency-ordered phases using one
// of three strategies (feature-based, layer-based, incremental). A
// StateManager owns the durable ExecutionState for exactly one mission
// folder and applies phase lifecycle transitions, persisting the state to
// phase-state.json after every change.
package phase

import "github.com/entrhq/phaseguard/pkg/logging"

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("phase")
	if err != nil {
		debugLog.Warnf("Failed to initialize phase logger, using stderr fallback: %v", err)
	}
}
