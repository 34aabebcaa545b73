package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/dratasich/telemetry-cache/events"
	"github.com/dratasich/telemetry-cache/metrics"
	"github.com/dratasich/telemetry-cache/normalize"
	"github.com/dratasich/telemetry-cache/store"
)

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name": "CNC Telemetry API",
		"endpoints": map[string][]string{
			"POST": {"/api/telemetry", "/api/devices/<deviceId>/command"},
			"GET": {
				"/api/devices",
				"/api/devices/<deviceId>/telemetry/latest",
				"/api/devices/<deviceId>/telemetry?limit=N",
			},
			"PUT":   {"/api/devices/<deviceId>/telemetry/latest"},
			"DEBUG": {"/debug/echo"},
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	mqttState := "disabled"
	if s.commander != nil {
		mqttState = "disconnected"
		if s.commander.Connected() {
			mqttState = "connected"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": s.store.Len(),
		"mqtt":    mqttState,
	})
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	raw, _ := readBody(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"method":         r.Method,
		"content_type":   r.Header.Get("Content-Type"),
		"content_length": max(r.ContentLength, 0),
		"raw_preview":    preview(raw, echoPreviewLen),
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		s.countRejected("json")
		return
	}

	rec, err := s.normalizer.Record(body)
	if err != nil {
		s.countRejected(kindOf(err))
		hlog.FromRequest(r).Debug().Msgf("Rejected telemetry: %s", err)
		writeValidationError(w, err)
		return
	}

	stored := s.store.Put(rec)
	if s.metrics != nil {
		s.metrics.RecordsAccepted.WithLabelValues(metrics.SourceHTTP).Inc()
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListDevices())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Latest(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	// unknown device wins over a bad limit
	if _, err := s.store.Latest(id); err != nil {
		writeStoreError(w, err)
		return
	}

	limit := s.config.DefaultHistoryLimit
	// only an absent limit takes the default; an empty one is rejected
	if query := r.URL.Query(); query.Has("limit") {
		n, ok := parseLimit(query.Get("limit"))
		if !ok {
			writeError(w, http.StatusBadRequest, errorBody{Error: "InvalidLimit", Message: "limit must be an integer"})
			return
		}
		limit = n
	}

	recs, err := s.store.History(id, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleUpdateLatest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.Latest(id); err != nil {
		s.countMerge("unknown_device")
		writeStoreError(w, err)
		return
	}

	body, ok := decodeBody(w, r)
	if !ok {
		s.countMerge("invalid")
		return
	}
	patch, err := s.normalizer.Patch(body)
	if err != nil {
		s.countMerge("invalid")
		writeValidationError(w, err)
		return
	}

	// deviceId in the body is accepted but never applied
	patch.DeviceID = nil
	updated, err := s.store.Merge(id, patch)
	if err != nil {
		s.countMerge("unknown_device")
		writeStoreError(w, err)
		return
	}
	s.countMerge("ok")
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.commander == nil {
		writeError(w, http.StatusServiceUnavailable, errorBody{Error: "Unavailable", Message: "MQTT is not enabled"})
		return
	}

	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	cmd, ok := body.(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, errorBody{Error: "MalformedInput", Message: "command must be a JSON object"})
		return
	}

	if err := s.commander.SendCommand(r.Context(), r.PathValue("id"), events.Command(cmd)); err != nil {
		hlog.FromRequest(r).Error().Msgf("Failed to send command: %s", err)
		writeError(w, http.StatusBadGateway, errorBody{Error: "CommandFailed", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// parseLimit accepts any integer; out of range values saturate and are
// clamped by the store.
func parseLimit(q string) (int, bool) {
	q = strings.TrimSpace(q)
	n, err := strconv.Atoi(q)
	if errors.Is(err, strconv.ErrRange) {
		if strings.HasPrefix(q, "-") {
			return math.MinInt, true
		}
		return math.MaxInt, true
	}
	return n, err == nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errorBody{Error: "UnknownDevice", Message: err.Error()})
		return
	}
	writeError(w, http.StatusInternalServerError, errorBody{Error: "ServerError", Message: "Unexpected error"})
}

func kindOf(err error) string {
	var verr *normalize.Error
	if errors.As(err, &verr) {
		return string(verr.Kind)
	}
	return "invalid"
}

func (s *Server) countRejected(reason string) {
	if s.metrics != nil {
		s.metrics.RecordsRejected.WithLabelValues(metrics.SourceHTTP, reason).Inc()
	}
}

func (s *Server) countMerge(status string) {
	if s.metrics != nil {
		s.metrics.Merges.WithLabelValues(status).Inc()
	}
}
