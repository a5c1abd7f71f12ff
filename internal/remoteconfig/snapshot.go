// Package remoteconfig fetches and caches the tunables served for a client
// key.
package remoteconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrDecode is returned when a config payload is not a JSON object.
var ErrDecode = errors.New("remote config payload is not an object")

// Source records where a snapshot came from.
type Source string

const (
	SourceDefaults Source = "defaults"
	SourceRemote   Source = "remote"
)

// Field defaults applied for any missing or malformed key.
const (
	DefaultFlushIntervalSeconds  = 5
	DefaultFlushSize             = 2000
	DefaultRequestTimeoutSeconds = 10
	DefaultCadenceMillis         = 200
	DefaultLowMemoryBackOff      = 5
	DefaultSampleRate            = 100
)

// LinkedSite carries per-site overrides.
type LinkedSite struct {
	SampleRate int `json:"sample_rate"`
}

// Snapshot is an immutable set of tunables.
type Snapshot struct {
	CallInProgress          bool                  `json:"call_in_progress"`
	GeoLocation             bool                  `json:"geo_location"`
	GyroAccelCadence        bool                  `json:"gyro_accel_cadence"`
	GyroAccelCadenceTime    int                   `json:"gyro_accel_cadence_time"`
	FlushIntervalSeconds    int                   `json:"event_queue_flush_interval"`
	FlushSize               int                   `json:"event_queue_flush_size"`
	RequestTimeoutSeconds   int                   `json:"request_timeout"`
	LowMemoryBackOffSeconds int                   `json:"low_memory_back_off"`
	SampleRate              int                   `json:"sample_rate"`
	SiteID                  string                `json:"site_id"`
	LinkedSiteOptions       map[string]LinkedSite `json:"linked_site_options,omitempty"`

	// Revision counts successful remote loads seen by the cache that
	// produced this snapshot. Zero for defaults.
	Revision int64  `json:"-"`
	Source   Source `json:"-"`
}

// Defaults returns the all-defaults snapshot.
func Defaults() Snapshot {
	return Snapshot{
		CallInProgress:          true,
		GeoLocation:             false,
		GyroAccelCadence:        false,
		GyroAccelCadenceTime:    DefaultCadenceMillis,
		FlushIntervalSeconds:    DefaultFlushIntervalSeconds,
		FlushSize:               DefaultFlushSize,
		RequestTimeoutSeconds:   DefaultRequestTimeoutSeconds,
		LowMemoryBackOffSeconds: DefaultLowMemoryBackOff,
		SampleRate:              DefaultSampleRate,
		Source:                  SourceDefaults,
	}
}

func (s Snapshot) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalSeconds) * time.Second
}

func (s Snapshot) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

func (s Snapshot) CadenceInterval() time.Duration {
	return time.Duration(s.GyroAccelCadenceTime) * time.Millisecond
}

func (s Snapshot) LowMemoryBackOff() time.Duration {
	return time.Duration(s.LowMemoryBackOffSeconds) * time.Second
}

// LinkedSiteRate returns the override sample rate for siteID.
func (s Snapshot) LinkedSiteRate(siteID string) (int, bool) {
	site, ok := s.LinkedSiteOptions[siteID]
	if !ok {
		return 0, false
	}
	return site.SampleRate, true
}

// Decode parses a config payload field by field. A field that is present
// but malformed or out of range keeps its default and is reported in the
// returned list of rejected keys. Only a payload that is not a JSON object
// fails as a whole.
func Decode(data []byte) (Snapshot, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		if err == nil {
			err = errors.New("null payload")
		}
		return Defaults(), nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	s := Defaults()
	s.Source = SourceRemote
	var rejected []string

	boolField := func(key string, dst *bool) {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				rejected = append(rejected, key)
			}
		}
	}
	// intField rejects values below minimum.
	intField := func(key string, dst *int, minimum int) {
		v, ok := raw[key]
		if !ok {
			return
		}
		var n int
		if err := json.Unmarshal(v, &n); err != nil || n < minimum {
			rejected = append(rejected, key)
			return
		}
		*dst = n
	}

	boolField("call_in_progress", &s.CallInProgress)
	boolField("geo_location", &s.GeoLocation)
	boolField("gyro_accel_cadence", &s.GyroAccelCadence)
	intField("gyro_accel_cadence_time", &s.GyroAccelCadenceTime, 1)
	intField("event_queue_flush_interval", &s.FlushIntervalSeconds, 1)
	intField("event_queue_flush_size", &s.FlushSize, 1)
	intField("request_timeout", &s.RequestTimeoutSeconds, 1)
	intField("low_memory_back_off", &s.LowMemoryBackOffSeconds, 0)
	intField("sample_rate", &s.SampleRate, 0)

	if v, ok := raw["site_id"]; ok {
		if err := json.Unmarshal(v, &s.SiteID); err != nil {
			rejected = append(rejected, "site_id")
		}
	}

	if v, ok := raw["linked_site_options"]; ok {
		var sites map[string]json.RawMessage
		if err := json.Unmarshal(v, &sites); err != nil {
			rejected = append(rejected, "linked_site_options")
		} else {
			s.LinkedSiteOptions = decodeLinkedSites(sites, &rejected)
		}
	}

	return s, rejected, nil
}

func decodeLinkedSites(sites map[string]json.RawMessage, rejected *[]string) map[string]LinkedSite {
	ids := make([]string, 0, len(sites))
	for id := range sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]LinkedSite, len(sites))
	for _, id := range ids {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(sites[id], &fields); err != nil {
			*rejected = append(*rejected, "linked_site_options."+id)
			continue
		}
		site := LinkedSite{SampleRate: DefaultSampleRate}
		if v, ok := fields["sample_rate"]; ok {
			var n int
			if err := json.Unmarshal(v, &n); err != nil || n < 0 {
				*rejected = append(*rejected, "linked_site_options."+id+".sample_rate")
			} else {
				site.SampleRate = n
			}
		}
		out[id] = site
	}
	return out
}
