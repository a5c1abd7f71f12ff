package delivery

import (
	"strings"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-beacon/internal/models"
)

// Environments derived from the client key.
const (
	EnvironmentLive = "LIVE"
	EnvironmentTest = "TEST"
)

const liveKeyPrefix = "key_live_"

// Environment returns LIVE for live client keys and TEST otherwise.
func Environment(clientKey string) string {
	if strings.HasPrefix(clientKey, liveKeyPrefix) {
		return EnvironmentLive
	}
	return EnvironmentTest
}

// SessionContext is the identity a batch is delivered under.
type SessionContext struct {
	ClientKey        string
	ClientID         string
	SiteID           string
	LinkedSiteID     string
	SessionID        string
	RegisteredUserID string
	TabID            string
	PageID           string
}

// Payload is the collector request body.
type Payload struct {
	ClientID         string         `json:"clientId"`
	Environment      string         `json:"environment"`
	SDKVersion       string         `json:"sdkVersion"`
	PageTag          string         `json:"pageTag"`
	ResponseID       string         `json:"responseId"`
	SiteID           string         `json:"siteId"`
	UserID           string         `json:"userId"`
	RegisteredUserID string         `json:"registeredUserId"`
	JSONEvents       []models.Event `json:"jsonEvents"`
	TabID            string         `json:"tabId"`
	PageID           string         `json:"pageId"`
	URL              string         `json:"url"`
	JSVersion        string         `json:"jsVersion"`
	LinkedSiteID     string         `json:"linkedSiteId"`
	PacketNumber     int64          `json:"packetNumber"`
}

// NewPayload builds the request body for b. Each call gets a fresh
// response id. The session id travels as userId.
func NewPayload(b models.Batch, sc SessionContext, sdkVersion string) Payload {
	events := b.Events
	if events == nil {
		events = []models.Event{}
	}
	return Payload{
		ClientID:         sc.ClientID,
		Environment:      Environment(sc.ClientKey),
		SDKVersion:       sdkVersion,
		PageTag:          b.PageTag,
		ResponseID:       uuid.NewString(),
		SiteID:           sc.SiteID,
		UserID:           sc.SessionID,
		RegisteredUserID: sc.RegisteredUserID,
		JSONEvents:       events,
		TabID:            sc.TabID,
		PageID:           sc.PageID,
		URL:              "app://" + b.PageTag,
		JSVersion:        sdkVersion,
		LinkedSiteID:     sc.LinkedSiteID,
		PacketNumber:     b.PacketNumber,
	}
}
