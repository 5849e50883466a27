package domain

import "errors"

// Error categories. Callers classify failures with errors.Is and map them to
// their own surface (the HTTP facade turns these into status codes).
var (
	// ErrNotFound indicates an unknown project id.
	ErrNotFound = errors.New("project not found")
	// ErrValidation indicates rejected caller input. No side effects occurred.
	ErrValidation = errors.New("validation failed")
	// ErrUpstream indicates the remote data source misbehaved (bad status,
	// timeout, oversized or unparseable payload).
	ErrUpstream = errors.New("upstream failure")
	// ErrConfiguration indicates missing generated artifacts, port mappings
	// or proxy markers. Not retried; messages carry enough context to
	// diagnose by hand.
	ErrConfiguration = errors.New("configuration error")
	// ErrAgentUnconfigured indicates the deploy agent credential is absent,
	// checked before any side-effecting step runs.
	ErrAgentUnconfigured = errors.New("deploy agent not configured")
)
