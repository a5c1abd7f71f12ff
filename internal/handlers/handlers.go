// Package handlers exposes the agent to host-side producers over HTTP:
// event ingestion, backpressure signals and session control.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/telhawk-systems/telhawk-beacon/common/logging"
	"github.com/telhawk-systems/telhawk-beacon/internal/models"
	"github.com/telhawk-systems/telhawk-beacon/internal/session"
)

// HeaderScreen names the screen the posted events were captured on.
const HeaderScreen = "X-Screen"

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Controller is the part of the session manager the handlers drive.
type Controller interface {
	Ingest(e models.Event, screen string)
	Configure(clientKey string, opts session.ConfigureOptions) error
	Start(sessionID string) (string, error)
	Stop() error
	Pause(flushFirst bool) error
	Resume() error
	SetRegisteredUserID(id string) error
	OnMemoryPressure() bool
	OnConnectivityChanged(available bool)
	State() session.State
	SessionID() string
	RegisteredUserID() string
}

// Response is the body of every non-GET reply.
type Response struct {
	Text     string `json:"text"`
	Code     int    `json:"code"`
	Accepted int    `json:"accepted,omitempty"`
}

// SessionStatus is returned by GET /v1/session.
type SessionStatus struct {
	State            string `json:"state"`
	SessionID        string `json:"session_id,omitempty"`
	RegisteredUserID string `json:"registered_user_id,omitempty"`
}

// Response codes.
const (
	CodeSuccess      = 0
	CodeNoData       = 5
	CodeInvalidEvent = 6
	CodeBadState     = 7
	CodeInvalidID    = 8
	CodeIgnored      = 9
)

type Handler struct {
	ctrl    Controller
	logger  *logging.Logger
	maxBody int64
}

// New creates a Handler. A non-positive maxBody selects DefaultMaxBodyBytes.
func New(ctrl Controller, logger *logging.Logger, maxBody int64) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Handler{ctrl: ctrl, logger: logger, maxBody: maxBody}
}

// Events accepts a single JSON event or newline-delimited events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, "method not allowed", CodeInvalidEvent, http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.sendError(w, "request body too large", CodeInvalidEvent, http.StatusRequestEntityTooLarge)
			return
		}
		h.sendError(w, "failed to read body", CodeInvalidEvent, http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(bytes.TrimSpace(body)) == 0 {
		h.sendError(w, "no data", CodeNoData, http.StatusBadRequest)
		return
	}

	events, err := parseEvents(body)
	if err != nil {
		h.logger.WithContext(r.Context()).Warn("rejected event payload", logging.Error(err))
		h.sendError(w, err.Error(), CodeInvalidEvent, http.StatusBadRequest)
		return
	}

	screen := r.Header.Get(HeaderScreen)
	for _, e := range events {
		h.ctrl.Ingest(e, screen)
	}

	h.sendJSON(w, http.StatusOK, Response{Text: "Success", Code: CodeSuccess, Accepted: len(events)})
}

func parseEvents(body []byte) ([]models.Event, error) {
	var single models.Event
	if err := json.Unmarshal(body, &single); err == nil {
		if err := checkType(single.Type); err != nil {
			return nil, err
		}
		return []models.Event{single}, nil
	}

	var events []models.Event
	for i, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e models.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if err := checkType(e.Type); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// checkType refuses missing types and the types only the agent emits.
func checkType(t models.EventType) error {
	switch {
	case t == "":
		return errors.New("event type is required")
	case t.Reserved():
		return fmt.Errorf("event type %s is emitted by the agent only", t)
	}
	return nil
}

// Memory delivers a low-memory signal.
func (h *Handler) Memory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, "method not allowed", CodeInvalidEvent, http.StatusMethodNotAllowed)
		return
	}
	if !h.ctrl.OnMemoryPressure() {
		h.sendJSON(w, http.StatusAccepted, Response{Text: "Ignored", Code: CodeIgnored})
		return
	}
	h.sendSuccess(w)
}

// Connectivity delivers a network availability change: ?available=true|false.
func (h *Handler) Connectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, "method not allowed", CodeInvalidEvent, http.StatusMethodNotAllowed)
		return
	}
	available, err := strconv.ParseBool(r.URL.Query().Get("available"))
	if err != nil {
		h.sendError(w, "available must be true or false", CodeInvalidEvent, http.StatusBadRequest)
		return
	}
	h.ctrl.OnConnectivityChanged(available)
	h.sendSuccess(w)
}

type configureRequest struct {
	ClientKey    string `json:"client_key"`
	SiteID       string `json:"site_id"`
	LinkedSiteID string `json:"linked_site_id"`
}

// Configure installs the client key and site ids. It is accepted before the
// first configuration and again after an explicit stop.
func (h *Handler) Configure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, "method not allowed", CodeInvalidEvent, http.StatusMethodNotAllowed)
		return
	}
	var req configureRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		h.sendError(w, "invalid request body", CodeInvalidEvent, http.StatusBadRequest)
		return
	}
	opts := session.ConfigureOptions{SiteID: req.SiteID, LinkedSiteID: req.LinkedSiteID}
	if err := h.ctrl.Configure(req.ClientKey, opts); err != nil {
		h.sessionError(w, r, "configure", err)
		return
	}
	h.Session(w, r)
}

type startRequest struct {
	SessionID string `json:"session_id"`
}

// Start opens a session. The optional body {"session_id": "..."} supplies
// the identifier.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, "method not allowed", CodeInvalidEvent, http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		h.sendError(w, "failed to read body", CodeInvalidEvent, http.StatusBadRequest)
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.sendError(w, "invalid request body", CodeInvalidEvent, http.StatusBadRequest)
			return
		}
	}

	if _, err := h.ctrl.Start(req.SessionID); err != nil {
		h.sessionError(w, r, "start", err)
		return
	}
	h.Session(w, r)
}

// Stop closes the session.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "stop", h.ctrl.Stop)
}

// Pause suspends periodic flushing. ?flush=true sends buffered events first.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "pause", func() error {
		flush, _ := strconv.ParseBool(r.URL.Query().Get("flush"))
		return h.ctrl.Pause(flush)
	})
}

// Resume restarts periodic flushing.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "resume", h.ctrl.Resume)
}

type userRequest struct {
	RegisteredUserID string `json:"registered_user_id"`
}

// User records the registered user id.
func (h *Handler) User(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, "method not allowed", CodeInvalidEvent, http.StatusMethodNotAllowed)
		return
	}
	var req userRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		h.sendError(w, "invalid request body", CodeInvalidEvent, http.StatusBadRequest)
		return
	}
	if err := h.ctrl.SetRegisteredUserID(req.RegisteredUserID); err != nil {
		h.sessionError(w, r, "set registered user id", err)
		return
	}
	h.sendSuccess(w)
}

// Session reports the lifecycle state and identifiers.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, SessionStatus{
		State:            h.ctrl.State().String(),
		SessionID:        h.ctrl.SessionID(),
		RegisteredUserID: h.ctrl.RegisteredUserID(),
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready reports ready once the agent has been configured.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	state := h.ctrl.State()
	status, code := "ready", http.StatusOK
	if state == session.StateUnconfigured {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	h.sendJSON(w, code, map[string]string{"status": status, "state": state.String()})
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, op string, fn func() error) {
	if r.Method != http.MethodPost {
		h.sendError(w, "method not allowed", CodeInvalidEvent, http.StatusMethodNotAllowed)
		return
	}
	if err := fn(); err != nil {
		h.sessionError(w, r, op, err)
		return
	}
	h.Session(w, r)
}

func (h *Handler) sessionError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WithContext(r.Context()).Warn("session operation refused", "op", op, logging.Error(err))

	switch {
	case errors.Is(err, session.ErrInvalidSessionID), errors.Is(err, session.ErrInvalidRegisteredUserID),
		errors.Is(err, session.ErrInvalidClientKey):
		h.sendError(w, err.Error(), CodeInvalidID, http.StatusBadRequest)
	case errors.Is(err, session.ErrNotConfigured):
		h.sendError(w, err.Error(), CodeBadState, http.StatusServiceUnavailable)
	default:
		h.sendError(w, err.Error(), CodeBadState, http.StatusConflict)
	}
}

func (h *Handler) sendSuccess(w http.ResponseWriter) {
	h.sendJSON(w, http.StatusOK, Response{Text: "Success", Code: CodeSuccess})
}

func (h *Handler) sendError(w http.ResponseWriter, text string, code, httpStatus int) {
	h.sendJSON(w, httpStatus, Response{Text: text, Code: code})
}

func (h *Handler) sendJSON(w http.ResponseWriter, httpStatus int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(v)
}
