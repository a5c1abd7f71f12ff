// Package models defines the agent's event model and its wire schema.
package models

import "encoding/json"

// EventType tags an event.
type EventType string

// Session and identity events.
const (
	EventCreateSession       EventType = "CREATE_SESSION"
	EventCloseSession        EventType = "CLOSE_SESSION"
	EventSetUserID           EventType = "SET_USER_ID"
	EventSetRegisteredUserID EventType = "SET_REGISTERED_USER_ID"
	EventSetVariable         EventType = "SET_VARIABLE"
	EventMobileMetadata      EventType = "MOBILE_METADATA"
)

// Agent-internal events.
const (
	EventLowMemory    EventType = "LOW_MEMORY"
	EventConfigCached EventType = "CONFIG_CACHED"
	EventLog          EventType = "LOG"
	EventNetworkState EventType = "NETWORK_STATE"
	EventCadence      EventType = "CADENCE_READING_ACCEL"
)

// Events produced by host instrumentation.
const (
	EventWindowLoad        EventType = "WINDOW_LOAD"
	EventWindowUnload      EventType = "WINDOW_UNLOAD"
	EventWindowFocus       EventType = "WINDOW_FOCUS"
	EventWindowBlur        EventType = "WINDOW_BLUR"
	EventFocus             EventType = "FOCUS"
	EventBlur              EventType = "BLUR"
	EventInput             EventType = "INPUT"
	EventTextChange        EventType = "TEXT_CHANGE"
	EventTouchStart        EventType = "TOUCH_START"
	EventTouchEnd          EventType = "TOUCH_END"
	EventTap               EventType = "TAP"
	EventPaste             EventType = "PASTE"
	EventCallInProgress    EventType = "CALL_IN_PROGRESS"
	EventLocation          EventType = "LOCATION"
	EventApplicationSubmit EventType = "APPLICATION_SUBMIT"
)

// Log levels carried by LOG events.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Event is one captured interaction or state record. Events are passed by
// value and treated as immutable once handed to the store; Attrs must not be
// modified after construction.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"ts"`

	// Sequence is assigned by the event store on insertion.
	Sequence uint64 `json:"seq"`

	URL    string           `json:"url,omitempty"`
	Target string           `json:"tg,omitempty"`
	Attrs  map[string]Value `json:"attrs,omitempty"`

	// SET_VARIABLE payload.
	Key   string `json:"key,omitempty"`
	Value string `json:"v,omitempty"`

	// Identity snapshot, only on session and registration events.
	SessionID        string `json:"sid,omitempty"`
	ClientID         string `json:"cid,omitempty"`
	UserID           string `json:"uid,omitempty"`
	RegisteredUserID string `json:"ruid,omitempty"`
	TabID            string `json:"tid,omitempty"`
	SiteID           string `json:"sit,omitempty"`

	// LOG payload.
	Level   string `json:"level,omitempty"`
	Message string `json:"m,omitempty"`

	Metadata *DeviceMetadata `json:"metadata,omitempty"`

	// Config carries the serialized snapshot on CONFIG_CACHED.
	Config json.RawMessage `json:"config,omitempty"`
}

// Reserved reports whether events of type t are generated only by the agent
// itself and must not be accepted from host instrumentation.
func (t EventType) Reserved() bool {
	switch t {
	case EventCreateSession, EventCloseSession, EventSetUserID,
		EventSetRegisteredUserID, EventSetVariable, EventMobileMetadata,
		EventLowMemory, EventConfigCached, EventLog, EventNetworkState,
		EventCadence:
		return true
	}
	return false
}

// StripAgentFields returns a copy of e holding only what host
// instrumentation may set: type, timestamp, url, target and attributes.
func (e Event) StripAgentFields() Event {
	return Event{
		Type:      e.Type,
		Timestamp: e.Timestamp,
		URL:       e.URL,
		Target:    e.Target,
		Attrs:     e.Attrs,
	}
}

// KeepsURL reports whether the url survives the flush-time strip pass.
func (e Event) KeepsURL() bool {
	switch e.Type {
	case EventCreateSession, EventSetUserID, EventSetRegisteredUserID:
		return true
	}
	return false
}

// WithoutURL returns a copy of e with the url removed.
func (e Event) WithoutURL() Event {
	e.URL = ""
	return e
}

// Queueable reports whether the event may be held for a later session while
// the agent is stopped.
func (e Event) Queueable() bool {
	switch e.Type {
	case EventSetVariable, EventSetUserID, EventSetRegisteredUserID,
		EventLog, EventConfigCached, EventNetworkState:
		return true
	}
	return false
}

// NewLog builds a LOG event.
func NewLog(ts int64, level, message string) Event {
	return Event{Type: EventLog, Timestamp: ts, Level: level, Message: message}
}

// NewVariable builds a SET_VARIABLE event.
func NewVariable(ts int64, key, value string) Event {
	return Event{Type: EventSetVariable, Timestamp: ts, Key: key, Value: value}
}
