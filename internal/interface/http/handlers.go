package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/internal/domain/power"
	"github.com/alem-hub/study-planner/internal/domain/shared"
	"github.com/alem-hub/study-planner/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.config.Version,
	})
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY STATS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// StatsView is the wire form of the delivery stats row. Field names and
// types follow the persisted schema: last_delivery_attempt is epoch ms.
type StatsView struct {
	LastDeliveryAttempt int64   `json:"last_delivery_attempt"`
	LastDeliverySuccess bool    `json:"last_delivery_success"`
	LastDeliveryReason  *string `json:"last_delivery_reason"`
	TotalScheduled      int64   `json:"total_scheduled"`
	TotalDelivered      int64   `json:"total_delivered"`
	TotalFailed         int64   `json:"total_failed"`
	DeliveryRate        float64 `json:"delivery_rate"`
	IsReliable          bool    `json:"is_reliable"`
}

func newStatsView(st delivery.Stats) StatsView {
	return StatsView{
		LastDeliveryAttempt: st.LastAttemptMillis(),
		LastDeliverySuccess: st.LastAttemptSucceeded,
		LastDeliveryReason:  st.LastFailureReason,
		TotalScheduled:      st.TotalScheduled,
		TotalDelivered:      st.TotalDelivered,
		TotalFailed:         st.TotalFailed,
		DeliveryRate:        st.DeliveryRate(),
		IsReliable:          st.IsReliable(),
	}
}

// handleGetStats handles GET /api/v1/delivery/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Delivery ledger not configured")
		return
	}

	st, err := s.deps.Stats.ReadStats(r.Context())
	if err != nil {
		s.logger.Error("failed to read delivery stats", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to read delivery stats")
		return
	}
	writeJSON(w, http.StatusOK, newStatsView(st))
}

// handleStreamStats handles GET /api/v1/delivery/stats/stream as
// Server-Sent Events: the current row first, then every change.
func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Delivery ledger not configured")
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would cut long-lived streams.
	_ = rc.SetWriteDeadline(time.Time{})

	updates, cancel := s.deps.Stats.Subscribe(4)
	defer cancel()

	current, err := s.deps.Stats.ReadStats(r.Context())
	if err != nil {
		s.logger.Error("failed to read delivery stats", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to read delivery stats")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "stats", newStatsView(current)); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.logger.Warn("stats stream is not flushable", "error", err)
		return
	}

	keepAlive := s.config.StreamKeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, "stats", newStatsView(st)); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w io.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// REMINDER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleRequest is the body of POST /api/v1/reminder/schedule.
// An empty schedule registers the configured one and keeps an existing
// registration; a non-empty schedule replaces it.
type ScheduleRequest struct {
	Schedule string `json:"schedule"`
}

// handleGetReminder handles GET /api/v1/reminder
func (s *Server) handleGetReminder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reminder == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Reminder planner not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Reminder.State(r.Context()))
}

// handleSchedule handles POST /api/v1/reminder/schedule
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reminder == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Reminder planner not configured")
		return
	}

	var req ScheduleRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var err error
	if req.Schedule == "" {
		err = s.deps.Reminder.Schedule(r.Context())
	} else {
		err = s.deps.Reminder.Reschedule(r.Context(), req.Schedule)
	}
	if err != nil {
		s.writeDomainError(w, "failed to schedule reminder", err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Reminder.State(r.Context()))
}

// handleCancel handles DELETE /api/v1/reminder
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reminder == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Reminder planner not configured")
		return
	}
	if err := s.deps.Reminder.Cancel(r.Context()); err != nil {
		s.writeDomainError(w, "failed to cancel reminder", err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Reminder.State(r.Context()))
}

// handleCatchUp handles POST /api/v1/reminder/catch-up
func (s *Server) handleCatchUp(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reminder == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Reminder planner not configured")
		return
	}

	res, err := s.deps.Reminder.RequestImmediateCatchUp(r.Context())
	if err != nil {
		s.writeDomainError(w, "failed to request catch-up", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":    res.RunID,
		"coalesced": res.Coalesced,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// POWER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// SignalRequest is the body of POST /api/v1/power/signals.
type SignalRequest struct {
	Signal      string `json:"signal"`
	PowerSaveOn bool   `json:"power_save_on"`
	Source      string `json:"source"`
}

// handleGetPower handles GET /api/v1/power
func (s *Server) handleGetPower(w http.ResponseWriter, r *http.Request) {
	if s.deps.Power == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Power observer not configured")
		return
	}

	st, err := s.deps.Power.State(r.Context())
	if err != nil {
		s.writeDomainError(w, "failed to read power state", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":       st,
		"constrained": st.Constrained(),
	})
}

// handlePowerSignal handles POST /api/v1/power/signals
func (s *Server) handlePowerSignal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Signals == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Signal bus not configured")
		return
	}

	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	sig, err := power.ParseSignal(req.Signal)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unknown_signal", err.Error())
		return
	}

	source := req.Source
	if source == "" {
		source = "http"
	}
	t := power.NewTransition(sig, source)
	t.PowerSaveOn = req.PowerSaveOn && sig == power.SignalPowerSaveModeChanged

	if err := s.deps.Signals.Publish(r.Context(), t); err != nil {
		if errors.Is(err, messaging.ErrBusClosed) {
			writeJSONError(w, http.StatusServiceUnavailable, "shutting_down", "Signal bus is closed")
			return
		}
		s.writeDomainError(w, "failed to publish power signal", err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func decodeOptionalBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.New("invalid JSON body")
}

// writeDomainError maps domain error kinds to status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, msg string, err error) {
	switch {
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusConflict, "not_scheduled", err.Error())
	case errors.Is(err, shared.ErrServiceUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		s.logger.Error(msg, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", msg)
	}
}
