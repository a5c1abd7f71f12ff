package identity

import (
	"log/slog"
	"sync"

	"github.com/telhawk-systems/telhawk-beacon/common/logging"
	"github.com/telhawk-systems/telhawk-beacon/internal/clock"
	"github.com/telhawk-systems/telhawk-beacon/internal/models"
)

// Origin values.
const (
	OriginCustomer = "customer-set"
	OriginNID      = "nid-set"
)

// Origin codes.
const (
	CodeCustomer = "customer"
	CodeNID      = "nid"
	CodeFail     = "fail"
)

// Identifier kinds reported in sessionIdType.
const (
	TypeSessionID        = "sessionID"
	TypeRegisteredUserID = "registeredUserID"
)

// SET_VARIABLE keys emitted on every set call.
const (
	VarCode   = "sessionIdCode"
	VarSource = "sessionIdSource"
	VarID     = "sessionId"
	VarType   = "sessionIdType"
)

// OriginResult records who supplied an identifier and whether it passed
// validation.
type OriginResult struct {
	Origin     string
	OriginCode string
	IDType     string
}

// Sink receives the events produced by identifier changes.
type Sink func(models.Event)

// Registry holds the session and registered user identifiers.
type Registry struct {
	clock  clock.Clock
	sink   Sink
	logger *slog.Logger

	mu               sync.RWMutex
	sessionID        string
	registeredUserID string
	origin           OriginResult
}

// NewRegistry creates an empty Registry. sink may be nil.
func NewRegistry(c clock.Clock, sink Sink, logger *slog.Logger) *Registry {
	if c == nil {
		c = clock.Real()
	}
	if sink == nil {
		sink = func(models.Event) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{clock: c, sink: sink, logger: logger}
}

// SetSessionID validates id and, if valid, makes it the session identifier.
// userGenerated marks an id supplied by the integrating application.
func (r *Registry) SetSessionID(id string, userGenerated bool) bool {
	origin, code := OriginNID, CodeNID
	if userGenerated {
		origin, code = OriginCustomer, CodeCustomer
	}

	r.logInfo("setting session id: " + Scrub(id))

	valid := Validate(id)
	if !valid {
		code = CodeFail
	}
	result := OriginResult{Origin: origin, OriginCode: code, IDType: TypeSessionID}
	r.emitOrigin(result, id, valid)

	if !valid {
		r.logFailure("invalid session id: "+Scrub(id), TypeSessionID)
		return false
	}

	r.mu.Lock()
	r.sessionID = id
	r.origin = result
	r.mu.Unlock()
	r.logger.Debug("session id set", logging.SessionID(Scrub(id)), "origin", origin)

	r.sink(models.Event{
		Type:      models.EventSetUserID,
		Timestamp: r.now(),
		UserID:    id,
		SessionID: id,
	})
	return true
}

// SetRegisteredUserID validates id and stores it. Once a registered user id
// has been accepted, a different non-empty id is rejected.
func (r *Registry) SetRegisteredUserID(id string) bool {
	r.logInfo("setting registered user id: " + Scrub(id))

	valid := Validate(id)

	r.mu.Lock()
	conflict := valid && r.registeredUserID != "" && r.registeredUserID != id
	if valid && !conflict {
		r.registeredUserID = id
	}
	r.mu.Unlock()

	code := CodeCustomer
	if !valid || conflict {
		code = CodeFail
	}
	r.emitOrigin(OriginResult{Origin: OriginCustomer, OriginCode: code, IDType: TypeRegisteredUserID}, id, valid)

	switch {
	case !valid:
		r.logFailure("invalid registered user id: "+Scrub(id), TypeRegisteredUserID)
		return false
	case conflict:
		r.logFailure("registered user id already set for this session, rejecting: "+Scrub(id), TypeRegisteredUserID)
		return false
	}

	r.sink(models.Event{
		Type:             models.EventSetRegisteredUserID,
		Timestamp:        r.now(),
		RegisteredUserID: id,
	})
	return true
}

func (r *Registry) SessionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID
}

func (r *Registry) RegisteredUserID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registeredUserID
}

// Origin returns the origin of the current session id.
func (r *Registry) Origin() OriginResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.origin
}

// Clear forgets every identifier and its origin.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.sessionID = ""
	r.registeredUserID = ""
	r.origin = OriginResult{}
	r.mu.Unlock()
}

func (r *Registry) emitOrigin(result OriginResult, id string, valid bool) {
	ts := r.now()
	shown := id
	if !valid {
		shown = Scrub(id)
	}
	r.sink(models.NewVariable(ts, VarCode, result.OriginCode))
	r.sink(models.NewVariable(ts, VarSource, result.Origin))
	r.sink(models.NewVariable(ts, VarID, shown))
	r.sink(models.NewVariable(ts, VarType, result.IDType))
}

func (r *Registry) logInfo(msg string) {
	r.logger.Debug(msg)
	r.sink(models.NewLog(r.now(), models.LevelInfo, msg))
}

func (r *Registry) logFailure(msg, idType string) {
	r.logger.Warn(msg, "id_type", idType)
	r.sink(models.NewLog(r.now(), models.LevelError, msg))
}

func (r *Registry) now() int64 { return r.clock.Now().UnixMilli() }
