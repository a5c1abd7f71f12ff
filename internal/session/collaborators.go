package session

import "github.com/telhawk-systems/telhawk-beacon/internal/models"

// Listeners are host observers toggled by remote config.
type Listeners interface {
	SetCallStatusObservation(enabled bool)
	SetGeolocation(enabled bool)
}

// MotionSource supplies accelerometer readings for the cadence task.
type MotionSource interface {
	Reading() (x, y, z float64, ok bool)
}

// MetadataProvider describes the host device.
type MetadataProvider interface {
	Metadata() models.DeviceMetadata
}

type noListeners struct{}

func (noListeners) SetCallStatusObservation(bool) {}
func (noListeners) SetGeolocation(bool)           {}

type emptyMetadata struct{}

func (emptyMetadata) Metadata() models.DeviceMetadata { return models.DeviceMetadata{} }

// StaticMetadata is a MetadataProvider returning a fixed value.
type StaticMetadata models.DeviceMetadata

func (s StaticMetadata) Metadata() models.DeviceMetadata { return models.DeviceMetadata(s) }
