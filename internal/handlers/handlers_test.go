package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-beacon/internal/models"
	"github.com/telhawk-systems/telhawk-beacon/internal/session"
)

// Mock controller for testing
type mockController struct {
	ingested     []models.Event
	screens      []string
	clientKey    string
	configOpts   session.ConfigureOptions
	configureErr error
	startID      string
	startErr     error
	stopErr      error
	pauseFlush   bool
	pauseErr     error
	resumeErr    error
	userErr      error
	memoryResult bool
	connectivity []bool
	state        session.State
	sessionID    string
	userID       string
}

func (m *mockController) Ingest(e models.Event, screen string) {
	m.ingested = append(m.ingested, e)
	m.screens = append(m.screens, screen)
}

func (m *mockController) Configure(clientKey string, opts session.ConfigureOptions) error {
	if m.configureErr != nil {
		return m.configureErr
	}
	m.clientKey = clientKey
	m.configOpts = opts
	m.state = session.StateConfigured
	return nil
}

func (m *mockController) Start(id string) (string, error) {
	m.startID = id
	if m.startErr != nil {
		return "", m.startErr
	}
	m.state = session.StateStarted
	m.sessionID = id
	return id, nil
}

func (m *mockController) Stop() error { return m.stopErr }

func (m *mockController) Pause(flush bool) error {
	m.pauseFlush = flush
	return m.pauseErr
}

func (m *mockController) Resume() error { return m.resumeErr }

func (m *mockController) SetRegisteredUserID(id string) error {
	if m.userErr != nil {
		return m.userErr
	}
	m.userID = id
	return nil
}

func (m *mockController) OnMemoryPressure() bool { return m.memoryResult }

func (m *mockController) OnConnectivityChanged(available bool) {
	m.connectivity = append(m.connectivity, available)
}

func (m *mockController) State() session.State     { return m.state }
func (m *mockController) SessionID() string        { return m.sessionID }
func (m *mockController) RegisteredUserID() string { return m.userID }

func do(t *testing.T, fn http.HandlerFunc, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	fn(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func TestEvents_Single(t *testing.T) {
	ctrl := &mockController{}
	h := New(ctrl, nil, 0)

	rr := do(t, h.Events, http.MethodPost, "/v1/events",
		`{"type":"TAP","tg":"submit","attrs":{"x":12,"pressure":0.5}}`,
		map[string]string{HeaderScreen: "Checkout"})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode(t, rr).Accepted)
	require.Len(t, ctrl.ingested, 1)
	assert.Equal(t, models.EventTap, ctrl.ingested[0].Type)
	assert.Equal(t, "submit", ctrl.ingested[0].Target)
	assert.Equal(t, "Checkout", ctrl.screens[0])

	x, ok := ctrl.ingested[0].Attrs["x"].Int()
	assert.True(t, ok)
	assert.Equal(t, int64(12), x)
}

func TestEvents_NDJSON(t *testing.T) {
	ctrl := &mockController{}
	h := New(ctrl, nil, 0)

	body := "{\"type\":\"FOCUS\",\"tg\":\"email\"}\n\n{\"type\":\"TEXT_CHANGE\",\"tg\":\"email\"}\n{\"type\":\"BLUR\",\"tg\":\"email\"}\n"
	rr := do(t, h.Events, http.MethodPost, "/v1/events", body, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 3, decode(t, rr).Accepted)
	require.Len(t, ctrl.ingested, 3)
	assert.Equal(t, models.EventBlur, ctrl.ingested[2].Type)
}

func TestEvents_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		status int
		code   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed, CodeInvalidEvent},
		{"empty body", http.MethodPost, "  \n", http.StatusBadRequest, CodeNoData},
		{"not json", http.MethodPost, "not json", http.StatusBadRequest, CodeInvalidEvent},
		{"missing type", http.MethodPost, `{"tg":"x"}`, http.StatusBadRequest, CodeInvalidEvent},
		{"bad ndjson line", http.MethodPost, "{\"type\":\"TAP\"}\n{oops}", http.StatusBadRequest, CodeInvalidEvent},
		{"reserved type", http.MethodPost, `{"type":"CREATE_SESSION"}`, http.StatusBadRequest, CodeInvalidEvent},
		{"reserved ndjson line", http.MethodPost, "{\"type\":\"TAP\"}\n{\"type\":\"LOW_MEMORY\"}", http.StatusBadRequest, CodeInvalidEvent},
		{"object attribute", http.MethodPost, `{"type":"TAP","attrs":{"a":{"b":1}}}`, http.StatusBadRequest, CodeInvalidEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &mockController{}
			h := New(ctrl, nil, 0)

			rr := do(t, h.Events, tt.method, "/v1/events", tt.body, nil)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, decode(t, rr).Code)
			assert.Empty(t, ctrl.ingested, "nothing ingested on rejection")
		})
	}
}

func TestEvents_BodyLimit(t *testing.T) {
	ctrl := &mockController{}
	h := New(ctrl, nil, 16)

	body := `{"type":"TAP","tg":"` + strings.Repeat("a", 64) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader([]byte(body)))
	rr := httptest.NewRecorder()
	h.Events(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, ctrl.ingested)
}

func TestMemory(t *testing.T) {
	ctrl := &mockController{memoryResult: true}
	h := New(ctrl, nil, 0)

	rr := do(t, h.Memory, http.MethodPost, "/v1/signals/memory", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	ctrl.memoryResult = false
	rr = do(t, h.Memory, http.MethodPost, "/v1/signals/memory", "", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, CodeIgnored, decode(t, rr).Code)
}

func TestConnectivity(t *testing.T) {
	ctrl := &mockController{}
	h := New(ctrl, nil, 0)

	rr := do(t, h.Connectivity, http.MethodPost, "/v1/signals/connectivity?available=false", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, h.Connectivity, http.MethodPost, "/v1/signals/connectivity?available=true", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []bool{false, true}, ctrl.connectivity)

	rr = do(t, h.Connectivity, http.MethodPost, "/v1/signals/connectivity?available=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Len(t, ctrl.connectivity, 2)
}

func TestConfigure(t *testing.T) {
	ctrl := &mockController{state: session.StateStopped}
	h := New(ctrl, nil, 0)

	rr := do(t, h.Configure, http.MethodPost, "/v1/configure",
		`{"client_key":"key_abc","site_id":"site-1","linked_site_id":"site-2"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "key_abc", ctrl.clientKey)
	assert.Equal(t, session.ConfigureOptions{SiteID: "site-1", LinkedSiteID: "site-2"}, ctrl.configOpts)

	var status SessionStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, "configured", status.State)

	rr = do(t, h.Configure, http.MethodGet, "/v1/configure", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = do(t, h.Configure, http.MethodPost, "/v1/configure", "{", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConfigure_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   int
	}{
		{session.ErrAlreadyConfigured, http.StatusConflict, CodeBadState},
		{session.ErrInvalidClientKey, http.StatusBadRequest, CodeInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := New(&mockController{configureErr: tt.err}, nil, 0)
			rr := do(t, h.Configure, http.MethodPost, "/v1/configure", `{"client_key":"x"}`, nil)
			assert.Equal(t, tt.status, rr.Code)
			resp := decode(t, rr)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.err.Error(), resp.Text)
		})
	}
}

func TestStart(t *testing.T) {
	ctrl := &mockController{state: session.StateConfigured}
	h := New(ctrl, nil, 0)

	rr := do(t, h.Start, http.MethodPost, "/v1/session/start", `{"session_id":"customer-1"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "customer-1", ctrl.startID)

	var status SessionStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, "started", status.State)
	assert.Equal(t, "customer-1", status.SessionID)

	rr = do(t, h.Start, http.MethodPost, "/v1/session/start", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, ctrl.startID, "empty body asks for a generated id")
}

func TestStart_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   int
	}{
		{session.ErrInvalidSessionID, http.StatusBadRequest, CodeInvalidID},
		{session.ErrNotConfigured, http.StatusServiceUnavailable, CodeBadState},
		{session.ErrStopped, http.StatusConflict, CodeBadState},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := New(&mockController{startErr: tt.err}, nil, 0)
			rr := do(t, h.Start, http.MethodPost, "/v1/session/start", "", nil)
			assert.Equal(t, tt.status, rr.Code)
			resp := decode(t, rr)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.err.Error(), resp.Text)
		})
	}

	h := New(&mockController{}, nil, 0)
	rr := do(t, h.Start, http.MethodPost, "/v1/session/start", "{", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestControl(t *testing.T) {
	ctrl := &mockController{state: session.StatePaused}
	h := New(ctrl, nil, 0)

	rr := do(t, h.Pause, http.MethodPost, "/v1/session/pause?flush=true", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, ctrl.pauseFlush)

	rr = do(t, h.Resume, http.MethodPost, "/v1/session/resume", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	ctrl.resumeErr = session.ErrNoSession
	rr = do(t, h.Resume, http.MethodPost, "/v1/session/resume", "", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h.Stop, http.MethodGet, "/v1/session/stop", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = do(t, h.Stop, http.MethodPost, "/v1/session/stop", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUser(t *testing.T) {
	ctrl := &mockController{}
	h := New(ctrl, nil, 0)

	rr := do(t, h.User, http.MethodPost, "/v1/session/user", `{"registered_user_id":"user-1"}`, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-1", ctrl.userID)

	ctrl.userErr = session.ErrInvalidRegisteredUserID
	rr = do(t, h.User, http.MethodPost, "/v1/session/user", `{"registered_user_id":"user-2"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeInvalidID, decode(t, rr).Code)
}

func TestReady(t *testing.T) {
	ctrl := &mockController{state: session.StateUnconfigured}
	h := New(ctrl, nil, 0)

	rr := do(t, h.Ready, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	ctrl.state = session.StateConfigured
	rr = do(t, h.Ready, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
