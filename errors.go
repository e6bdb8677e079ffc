package devlink

import "errors"

// Failures on the discovery and link paths are recovered by the Manager
// itself; they reach callers only wrapped in log fields or through the
// state hook. ErrNotConnected, ErrStopped and ErrAlreadyRunning are
// returned from the public API.
var (
	ErrDiscovery      = errors.New("devlink: port enumeration failed")
	ErrNoDevice       = errors.New("devlink: no matching device found")
	ErrLinkOpen       = errors.New("devlink: failed to open link")
	ErrLinkRuntime    = errors.New("devlink: link I/O failed")
	ErrNotConnected   = errors.New("devlink: link is not connected")
	ErrStopped        = errors.New("devlink: manager stopped")
	ErrAlreadyRunning = errors.New("devlink: manager already running")
	ErrInvalidConfig  = errors.New("devlink: invalid configuration")
)
