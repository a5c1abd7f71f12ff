package session

import (
	"errors"
	"regexp"
)

// State is a lifecycle state of the Manager.
type State int32

const (
	StateUnconfigured State = iota
	StateConfigured
	StateStarted
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateStarted:
		return "started"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyConfigured       = errors.New("agent already configured")
	ErrInvalidClientKey        = errors.New("invalid client key")
	ErrNotConfigured           = errors.New("agent not configured")
	ErrStopped                 = errors.New("agent stopped, configure again to restart")
	ErrNotStarted              = errors.New("no active session")
	ErrNoSession               = errors.New("no session to resume")
	ErrInvalidSessionID        = errors.New("invalid session id")
	ErrInvalidRegisteredUserID = errors.New("registered user id rejected")
)

var clientKeyPattern = regexp.MustCompile(`^key_(live|test)_[A-Za-z0-9]+$`)

// ValidClientKey reports whether key is a well-formed client key.
func ValidClientKey(key string) bool {
	return clientKeyPattern.MatchString(key)
}
