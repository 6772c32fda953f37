package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/feedsim/feedsim/internal/producer"
	"github.com/feedsim/feedsim/internal/sink"
)

// errorResponse is the JSON error payload shared by every endpoint.
type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: status})
}

// writeRegistryError maps the registry's typed errors onto HTTP statuses.
func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case producer.IsInvalidParameter(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case producer.IsAlreadyRunning(err):
		writeError(w, http.StatusConflict, err.Error())
	case producer.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, producer.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeStrict parses the request body into v, rejecting unknown fields,
// oversized bodies, and trailing data.
func decodeStrict(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

// handleHealth reports liveness and whether the sink is recording instead of
// transmitting.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfgPtr.Load()
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		DryRun bool   `json:"dry_run"`
	}{Status: "ok", DryRun: cfg.DryRunActive()})
}

type listResponse struct {
	Producers []producer.Snapshot `json:"producers"`
	Count     int                 `json:"count"`
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	snaps := s.reg.List()
	writeJSON(w, http.StatusOK, listResponse{Producers: snaps, Count: len(snaps)})
}

type startRequest struct {
	ProducerID      string         `json:"producer_id"`
	Topic           string         `json:"topic"`
	IntervalSeconds *float64       `json:"interval_seconds"`
	JitterSeconds   *float64       `json:"jitter_seconds"`
	PayloadTemplate map[string]any `json:"payload_template"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeStrict(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.reg.Start(producer.StartRequest{
		ProducerID:      req.ProducerID,
		Topic:           req.Topic,
		IntervalSeconds: req.IntervalSeconds,
		JitterSeconds:   req.JitterSeconds,
		PayloadTemplate: req.PayloadTemplate,
	})
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.reg.Stop(id); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ProducerID string `json:"producer_id"`
		Status     string `json:"status"`
	}{ProducerID: id, Status: string(producer.StatusStopped)})
}

type alertRequest struct {
	Message    string `json:"message"`
	Severity   string `json:"severity"`
	Topic      string `json:"topic"`
	ProducerID string `json:"producer_id"`
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	if !s.alertLimiter.Load().Allow() {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "alert rate limit exceeded")
		return
	}

	var req alertRequest
	if err := decodeStrict(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.reg.Alert(r.Context(), producer.AlertRequest{
		Message:    req.Message,
		Severity:   req.Severity,
		Topic:      req.Topic,
		ProducerID: req.ProducerID,
	})
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	status := http.StatusOK
	if !res.Accepted {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

type recentResponse struct {
	Events []sink.Event `json:"events"`
	Count  int          `json:"count"`
}

func (s *Server) handleRecent(w http.ResponseWriter, _ *http.Request) {
	events := s.hub.Recent()
	writeJSON(w, http.StatusOK, recentResponse{Events: events, Count: len(events)})
}
