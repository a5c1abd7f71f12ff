package logging

import (
	"log/slog"
	"strings"
)

// Common field names for consistent logging across the agent.
const (
	FieldService      = "service"
	FieldRequestID    = "request_id"
	FieldClientKey    = "client_key"
	FieldSessionID    = "session_id"
	FieldSiteID       = "site_id"
	FieldPacketNumber = "packet_number"
	FieldEventCount   = "event_count"
	FieldEventType    = "event_type"
	FieldStatus       = "status"
	FieldAttempts     = "attempts"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
	FieldState        = "state"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// ClientKey returns a slog attribute for a client key. Only the prefix and
// the last four characters are kept.
func ClientKey(key string) slog.Attr {
	return slog.String(FieldClientKey, maskKey(key))
}

// SessionID returns a slog attribute for a session identifier. Callers pass
// the scrubbed form.
func SessionID(id string) slog.Attr {
	return slog.String(FieldSessionID, id)
}

// SiteID returns a slog attribute for a site identifier.
func SiteID(id string) slog.Attr {
	return slog.String(FieldSiteID, id)
}

// PacketNumber returns a slog attribute for a batch packet number.
func PacketNumber(n int64) slog.Attr {
	return slog.Int64(FieldPacketNumber, n)
}

// EventCount returns a slog attribute for a number of events.
func EventCount(n int) slog.Attr {
	return slog.Int(FieldEventCount, n)
}

// EventType returns a slog attribute for an event type tag.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// Status returns a slog attribute for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Attempts returns a slog attribute for a delivery attempt count.
func Attempts(n int) slog.Attr {
	return slog.Int(FieldAttempts, n)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// State returns a slog attribute for a lifecycle state name.
func State(s string) slog.Attr {
	return slog.String(FieldState, s)
}

func maskKey(key string) string {
	const keep = 4

	// key_live_abcdef1234 -> key_live_******1234
	prefix, secret := "", key
	if parts := strings.SplitN(key, "_", 3); len(parts) == 3 {
		prefix, secret = parts[0]+"_"+parts[1]+"_", parts[2]
	}
	if len(secret) <= keep {
		return key
	}
	return prefix + strings.Repeat("*", len(secret)-keep) + secret[len(secret)-keep:]
}
