package models

// PageTagPlaceholder is used when the first event of a batch carries no url.
const PageTagPlaceholder = "UNKNOWN"

// Batch is an ordered snapshot of drained events bound for one request.
type Batch struct {
	Events       []Event
	PacketNumber int64
	PageTag      string
}

// NewBatch strips urls from every event that does not keep one and derives
// the page tag from the first event's url before stripping.
func NewBatch(events []Event, packetNumber int64) Batch {
	tag := PageTagPlaceholder
	if len(events) > 0 && events[0].URL != "" {
		tag = events[0].URL
	}

	out := make([]Event, len(events))
	for i, e := range events {
		if e.KeepsURL() {
			out[i] = e
			continue
		}
		out[i] = e.WithoutURL()
	}

	return Batch{Events: out, PacketNumber: packetNumber, PageTag: tag}
}

// Len returns the number of events in the batch.
func (b Batch) Len() int { return len(b.Events) }

// DeviceMetadata describes the host device and runtime. It rides on
// CREATE_SESSION and MOBILE_METADATA events.
type DeviceMetadata struct {
	Brand        string `json:"brand,omitempty"`
	Device       string `json:"device,omitempty"`
	DisplayName  string `json:"display,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Product      string `json:"product,omitempty"`
	OSVersion    string `json:"osVersion,omitempty"`
	SDKVersion   string `json:"sdkVersion,omitempty"`
	Locale       string `json:"locale,omitempty"`
	Language     string `json:"language,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	ScreenWidth  int    `json:"screenWidth,omitempty"`
	ScreenHeight int    `json:"screenHeight,omitempty"`
	IsJailBreak  bool   `json:"isJailBreak"`
	IsSimulator  bool   `json:"isSimulator"`
}
