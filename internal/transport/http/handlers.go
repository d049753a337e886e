package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"xparking/internal/bus"
	"xparking/internal/orchestrator"
	"xparking/internal/vehicle"
	"xparking/pkg/platform/sentinel"
)

type triggerRequest struct {
	Credential string `json:"credential"`
}

func (h *Handler) handleTriggerEntry(w http.ResponseWriter, r *http.Request) {
	h.handleTrigger(w, r, h.controller.TriggerEntry)
}

func (h *Handler) handleTriggerExit(w http.ResponseWriter, r *http.Request) {
	h.handleTrigger(w, r, h.controller.TriggerExit)
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request, trigger func(ctx context.Context, credential, operator string) error) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Credential == "" {
		writeError(w, http.StatusBadRequest, "credential required")
		return
	}

	err := trigger(r.Context(), req.Credential, OperatorFrom(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, h.controller.Status(r.Context()))
}

// statusFor maps orchestration failures to HTTP statuses. Rejections
// (busy, duplicate, full) are conflicts; lookups are 404s; a failed
// scan is unprocessable rather than a server fault.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, sentinel.ErrDuplicate),
		errors.Is(err, sentinel.ErrCapacity):
		return http.StatusConflict
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sentinel.ErrUnavailable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	cancelled := h.controller.CancelPayment(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (h *Handler) handleCashPayment(w http.ResponseWriter, r *http.Request) {
	operator := OperatorFrom(r.Context())
	if err := h.controller.ManualCashPayment(r.Context(), operator); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled", "confirmed_by": operator})
}

func (h *Handler) handleManualBarrier(w http.ResponseWriter, r *http.Request) {
	var lane bus.Lane
	switch chi.URLParam(r, "lane") {
	case "in":
		lane = bus.LaneIn
	case "out":
		lane = bus.LaneOut
	default:
		writeError(w, http.StatusBadRequest, "lane must be in or out")
		return
	}

	var open bool
	switch chi.URLParam(r, "action") {
	case "open":
		open = true
	case "close":
		open = false
	default:
		writeError(w, http.StatusBadRequest, "action must be open or close")
		return
	}

	h.controller.ManualBarrier(r.Context(), lane, open, OperatorFrom(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.controller.Status(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"state":           snap.State,
		"operation":       snap.Operation,
		"plate":           snap.Plate,
		"occupied":        snap.Occupied,
		"slots_reported":  snap.SlotsReported,
		"capacity":        snap.Capacity,
		"barriers":        snap.Barriers,
		"smoke_value":     snap.SmokeValue,
		"smoke_status":    snap.SmokeStatus,
		"alert_active":    snap.AlertActive,
		"awaited_payment": snap.AwaitedPayment,
		"bus_connected":   h.health.BusConnected == nil || h.health.BusConnected(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if h.health.StoreCheck != nil {
		if err := h.health.StoreCheck(r.Context()); err != nil {
			checks["store"] = err.Error()
			healthy = false
		} else {
			checks["store"] = "ok"
		}
	}
	if h.health.BusConnected != nil {
		if h.health.BusConnected() {
			checks["bus"] = "ok"
		} else {
			checks["bus"] = "disconnected"
			healthy = false
		}
	}
	if h.health.FeedHealthy != nil {
		if h.health.FeedHealthy() {
			checks["feed"] = "ok"
		} else {
			// A flapping bank API degrades payments but the lot keeps
			// operating, so it does not fail the probe.
			checks["feed"] = "degraded"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, checks)
}

type historyEntry struct {
	ID            string     `json:"id"`
	Plate         string     `json:"plate"`
	Credential    string     `json:"credential"`
	EntryTime     time.Time  `json:"entry_time"`
	ExitTime      *time.Time `json:"exit_time,omitempty"`
	Fee           int64      `json:"fee"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter := vehicle.HistoryFilter{Plate: r.URL.Query().Get("plate")}
	if raw := r.URL.Query().Get("date"); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		filter.EntryDate = day
	}

	sessions, err := h.store.History(r.Context(), filter)
	if err != nil {
		h.logger.Error("history query", "error", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	out := make([]historyEntry, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, historyEntry{
			ID:            s.ID,
			Plate:         s.Plate,
			Credential:    s.Credential,
			EntryTime:     s.EntryTime,
			ExitTime:      s.ExitTime,
			Fee:           s.Fee,
			Status:        string(s.Status),
			PaymentStatus: string(s.PaymentStatus),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) handleRevenue(w http.ResponseWriter, r *http.Request) {
	from, err := parseDay(r.URL.Query().Get("from"), time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := parseDay(r.URL.Query().Get("to"), time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}
	// Include the whole end day.
	to = to.Add(24*time.Hour - time.Nanosecond)

	total, err := h.store.Revenue(r.Context(), from, to)
	if err != nil {
		h.logger.Error("revenue query", "error", err)
		writeError(w, http.StatusInternalServerError, "revenue query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revenue": total})
}

func parseDay(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", raw)
}
