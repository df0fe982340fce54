package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/afkfleet/internal/accounts"
	"github.com/yegors/afkfleet/internal/command"
	"github.com/yegors/afkfleet/internal/fleet"
	"github.com/yegors/afkfleet/internal/notify"
	"github.com/yegors/afkfleet/internal/session"
	"github.com/yegors/afkfleet/internal/websocket"
	"github.com/yegors/afkfleet/pkg/logger"
)

var errUnauthorized = errors.New("missing or invalid API token")

// EventLister reads the persisted notification log
type EventLister interface {
	ListBySlot(slot, limit int) ([]notify.Notification, error)
	ListRecent(limit int) ([]notify.Notification, error)
}

// Handler contains the API handlers
type Handler struct {
	fleet       *fleet.Fleet
	dispatcher  *command.Dispatcher
	events      EventLister // optional
	wsServer    *websocket.Server
	eventsLimit int
	version     string
	started     time.Time
	logger      *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(f *fleet.Fleet, dispatcher *command.Dispatcher, events EventLister, wsServer *websocket.Server, eventsLimit int, version string, log *logger.Logger) *Handler {
	if eventsLimit <= 0 {
		eventsLimit = 100
	}
	return &Handler{
		fleet:       f,
		dispatcher:  dispatcher,
		events:      events,
		wsServer:    wsServer,
		eventsLimit: eventsLimit,
		version:     version,
		started:     time.Now(),
		logger:      log.Named("api-handler"),
	}
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"slots":   h.fleet.Summary(),
	}
	if h.wsServer != nil {
		response["operators"] = h.wsServer.ClientCount()
	}
	WriteJSON(w, http.StatusOK, response)
}

// GetSlots returns the status of every slot
func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	statuses := h.fleet.Statuses()
	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now(),
		"count":     len(statuses),
		"slots":     statuses,
	})
}

type createSlotRequest struct {
	Slot       int    `json:"slot"`
	Username   string `json:"username"`
	Auth       string `json:"auth"`
	Protection *bool  `json:"protection"`
	Start      bool   `json:"start"`
}

// CreateSlot provisions a new slot
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req createSlotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sup, err := h.fleet.Add(accounts.Account{
		Slot:       req.Slot,
		Username:   req.Username,
		Auth:       req.Auth,
		Protection: req.Protection,
	}, req.Start)
	switch {
	case errors.Is(err, accounts.ErrSlotExists):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sup.Status())
}

// GetSlot returns one slot's status
func (h *Handler) GetSlot(w http.ResponseWriter, r *http.Request) {
	sup, ok := h.supervisor(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, sup.Status())
}

// DeleteSlot stops and removes a slot
func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	sup, ok := h.supervisor(w, r)
	if !ok {
		return
	}
	if err := h.fleet.Remove(sup.Slot()); err != nil {
		h.logger.Error("Failed to remove slot", logger.Int("slot", sup.Slot()), logger.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	WriteJSON(w, http.StatusOK, session.Result{OK: true, Message: fmt.Sprintf("slot %d removed", sup.Slot())})
}

// GetSlotStats returns one slot's counters
func (h *Handler) GetSlotStats(w http.ResponseWriter, r *http.Request) {
	sup, ok := h.supervisor(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, sup.Stats())
}

// GetSlotEvents returns recent persisted notifications for a slot
func (h *Handler) GetSlotEvents(w http.ResponseWriter, r *http.Request) {
	sup, ok := h.supervisor(w, r)
	if !ok {
		return
	}
	if h.events == nil {
		writeError(w, http.StatusNotFound, errors.New("event log is disabled"))
		return
	}
	events, err := h.events.ListBySlot(sup.Slot(), h.limit(r))
	if err != nil {
		h.logger.Error("Failed to retrieve events", logger.Error(err))
		http.Error(w, "Failed to retrieve events", http.StatusInternalServerError)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

// GetEvents returns recent persisted notifications across all slots
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, errors.New("event log is disabled"))
		return
	}
	events, err := h.events.ListRecent(h.limit(r))
	if err != nil {
		h.logger.Error("Failed to retrieve events", logger.Error(err))
		http.Error(w, "Failed to retrieve events", http.StatusInternalServerError)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

// SlotAction runs start, stop, restart, pause or resume on a slot
func (h *Handler) SlotAction(w http.ResponseWriter, r *http.Request) {
	sup, ok := h.supervisor(w, r)
	if !ok {
		return
	}
	var res session.Result
	switch action := chi.URLParam(r, "action"); action {
	case "start":
		res = sup.Start()
	case "stop":
		res = sup.Stop()
	case "restart":
		res = sup.Restart()
	case "pause":
		res = sup.Pause()
	case "resume":
		res = sup.Resume()
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action %q", action))
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// SetProtection toggles or sets the protection override
func (h *Handler) SetProtection(w http.ResponseWriter, r *http.Request) {
	sup, ok := h.supervisor(w, r)
	if !ok {
		return
	}
	// An empty body toggles
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	WriteJSON(w, http.StatusOK, sup.ToggleProtection(req.Enabled))
}

// SendChat sends a chat line from the slot
func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	sup, ok := h.supervisor(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	WriteJSON(w, http.StatusOK, sup.SendChat(req.Text))
}

// Move walks the slot a short distance
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	sup, ok := h.supervisor(w, r)
	if !ok {
		return
	}
	var req struct {
		Direction string  `json:"direction"`
		Distance  float64 `json:"distance"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	WriteJSON(w, http.StatusOK, sup.Move(req.Direction, req.Distance))
}

// DropItem tosses items from the slot's inventory
func (h *Handler) DropItem(w http.ResponseWriter, r *http.Request) {
	sup, ok := h.supervisor(w, r)
	if !ok {
		return
	}
	var req struct {
		Item  string `json:"item"`
		Count int    `json:"count"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	WriteJSON(w, http.StatusOK, sup.DropItem(req.Item, req.Count))
}

// RunCommand executes a text command
func (h *Handler) RunCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"command": req.Command,
		"reply":   h.dispatcher.Execute(r.Context(), req.Command),
	})
}

// HandleWebSocket handles WebSocket connections
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

func (h *Handler) supervisor(w http.ResponseWriter, r *http.Request) (*session.Supervisor, bool) {
	raw := chi.URLParam(r, "slot")
	slot, err := strconv.Atoi(raw)
	if err != nil || slot <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid slot %q", raw))
		return nil, false
	}
	sup, err := h.fleet.Get(slot)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return sup, true
}

func (h *Handler) limit(r *http.Request) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= h.eventsLimit {
		return v
	}
	return h.eventsLimit
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
