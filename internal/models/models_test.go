package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"null", Value{}, `null`},
		{"int", Int(42), `42`},
		{"double", Double(1.5), `1.5`},
		{"bool", Bool(true), `true`},
		{"string", String("hi"), `"hi"`},
		{"empty list", List(), `[]`},
		{"list", List(Attr{Name: "x", Value: Int(1)}, Attr{Name: "label", Value: String("a")}), `[{"n":"x","v":1},{"n":"label","v":"a"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestValue_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
	}{
		{`null`, KindNull},
		{`7`, KindInt},
		{`-3`, KindInt},
		{`7.25`, KindDouble},
		{`1e3`, KindDouble},
		{`false`, KindBool},
		{`"text"`, KindString},
		{`[{"n":"x","v":2.5}]`, KindList},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var v Value
			require.NoError(t, json.Unmarshal([]byte(tt.in), &v))
			assert.Equal(t, tt.kind, v.Kind())
		})
	}

	var nested Value
	require.NoError(t, json.Unmarshal([]byte(`[{"n":"x","v":2.5},{"n":"ok","v":true}]`), &nested))
	attrs, ok := nested.List()
	require.True(t, ok)
	require.Len(t, attrs, 2)
	f, ok := attrs[0].Value.Double()
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	var bad Value
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &bad))
}

func TestValue_Accessors(t *testing.T) {
	i, ok := Int(5).Int()
	assert.True(t, ok)
	assert.Equal(t, int64(5), i)

	_, ok = Int(5).Str()
	assert.False(t, ok)

	s, ok := String("x").Str()
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	b, ok := Bool(true).Bool()
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = String("x").List()
	assert.False(t, ok)
}

func TestValue_ListIsCopied(t *testing.T) {
	attrs := []Attr{{Name: "a", Value: Int(1)}}
	v := List(attrs...)
	attrs[0].Name = "mutated"

	got, _ := v.List()
	assert.Equal(t, "a", got[0].Name)
}

func TestEvent_URLRules(t *testing.T) {
	keep := []EventType{EventCreateSession, EventSetUserID, EventSetRegisteredUserID}
	for _, typ := range keep {
		assert.True(t, Event{Type: typ}.KeepsURL(), typ)
	}
	assert.False(t, Event{Type: EventTouchStart}.KeepsURL())
	assert.False(t, Event{Type: EventLowMemory}.KeepsURL())

	e := Event{Type: EventInput, URL: "LoginScreen"}
	stripped := e.WithoutURL()
	assert.Empty(t, stripped.URL)
	assert.Equal(t, "LoginScreen", e.URL, "original is untouched")
}

func TestEvent_Queueable(t *testing.T) {
	assert.True(t, Event{Type: EventSetVariable}.Queueable())
	assert.True(t, Event{Type: EventLog}.Queueable())
	assert.False(t, Event{Type: EventTouchStart}.Queueable())
	assert.False(t, Event{Type: EventCreateSession}.Queueable())
}

func TestEventType_Reserved(t *testing.T) {
	for _, typ := range []EventType{EventCreateSession, EventCloseSession, EventLowMemory, EventSetRegisteredUserID, EventLog} {
		assert.True(t, typ.Reserved(), typ)
	}
	for _, typ := range []EventType{EventTap, EventTextChange, EventWindowLoad, EventApplicationSubmit} {
		assert.False(t, typ.Reserved(), typ)
	}
}

func TestEvent_StripAgentFields(t *testing.T) {
	e := Event{
		Type:             EventTap,
		Timestamp:        5,
		Sequence:         7,
		URL:              "Home",
		Target:           "submit",
		Attrs:            map[string]Value{"x": Int(1)},
		SessionID:        "forged",
		RegisteredUserID: "forged",
		Metadata:         &DeviceMetadata{},
	}
	got := e.StripAgentFields()
	assert.Equal(t, Event{Type: EventTap, Timestamp: 5, URL: "Home", Target: "submit", Attrs: e.Attrs}, got)
}

func TestEvent_JSONSchema(t *testing.T) {
	e := Event{
		Type:      EventTextChange,
		Timestamp: 1700000000000,
		Sequence:  9,
		Target:    "email",
		Attrs:     map[string]Value{"length": Int(12)},
	}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"TEXT_CHANGE","ts":1700000000000,"seq":9,"tg":"email","attrs":{"length":12}}`, string(data))

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, e.Type, back.Type)
	n, _ := back.Attrs["length"].Int()
	assert.Equal(t, int64(12), n)
}

func TestNewBatch(t *testing.T) {
	events := []Event{
		{Type: EventTouchStart, URL: "Checkout"},
		{Type: EventCreateSession, URL: "Checkout"},
		{Type: EventInput, URL: "Checkout"},
	}

	batch := NewBatch(events, 4)
	assert.Equal(t, int64(4), batch.PacketNumber)
	assert.Equal(t, "Checkout", batch.PageTag)
	assert.Equal(t, 3, batch.Len())
	assert.Empty(t, batch.Events[0].URL)
	assert.Equal(t, "Checkout", batch.Events[1].URL)
	assert.Empty(t, batch.Events[2].URL)
	assert.Equal(t, "Checkout", events[0].URL, "input slice is untouched")
}

func TestNewBatch_Placeholder(t *testing.T) {
	assert.Equal(t, PageTagPlaceholder, NewBatch([]Event{{Type: EventLog}}, 0).PageTag)
	assert.Equal(t, PageTagPlaceholder, NewBatch(nil, 0).PageTag)
}

func TestConstructors(t *testing.T) {
	l := NewLog(10, LevelError, "boom")
	assert.Equal(t, EventLog, l.Type)
	assert.Equal(t, LevelError, l.Level)
	assert.Equal(t, "boom", l.Message)

	v := NewVariable(11, "sessionIdCode", "nid")
	assert.Equal(t, EventSetVariable, v.Type)
	assert.Equal(t, "sessionIdCode", v.Key)
	assert.Equal(t, "nid", v.Value)
}
