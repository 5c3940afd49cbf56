package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/doorway"
	"github.com/banshee-data/occupancy.report/internal/version"
)

const maxBodyBytes = 4 << 10

type statusResponse struct {
	doorway.Snapshot
	Version string `json:"version"`
}

type countRequest struct {
	Count *int `json:"count"`
}

type limitRequest struct {
	Limit *int `json:"limit"`
}

type countResponse struct {
	Count     int  `json:"count"`
	Limit     int  `json:"limit"`
	OverLimit bool `json:"over_limit"`
}

func (s *Server) countResponse() countResponse {
	snap := s.monitor.Snapshot()
	return countResponse{Count: snap.Count, Limit: snap.Limit, OverLimit: snap.OverLimit}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Snapshot: s.monitor.Snapshot(), Version: version.String()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.countResponse())
	case http.MethodPut, http.MethodPost:
		var req countRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		// negative counts are allowed: the counter itself can go below zero
		if req.Count == nil {
			s.writeJSONError(w, http.StatusBadRequest, "count must be an integer")
			return
		}
		if err := s.monitor.SetCount(r.Context(), *req.Count, "api"); err != nil {
			// the count is already applied; only the journal failed
			s.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, s.countResponse())
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleLimit(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.countResponse())
	case http.MethodPut, http.MethodPost:
		var req limitRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Limit == nil || *req.Limit < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		s.monitor.SetLimit(*req.Limit)
		s.writeJSON(w, http.StatusOK, s.countResponse())
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) showZones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.monitor.Diagnostics())
}

func (s *Server) requireDB(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "journal disabled")
		return false
	}
	return true
}

func (s *Server) listCrossings(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	limit, ok := queryInt(r, "limit", 100, 1000)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	crossings, err := s.db.RecentCrossings(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list crossings: %v", err))
		return
	}
	if crossings == nil {
		crossings = []db.CrossingRecord{}
	}
	s.writeJSON(w, http.StatusOK, crossings)
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	limit, ok := queryInt(r, "limit", 100, 1000)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	transitions, err := s.db.RecentTransitions(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list transitions: %v", err))
		return
	}
	if transitions == nil {
		transitions = []db.TransitionRecord{}
	}
	s.writeJSON(w, http.StatusOK, transitions)
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w, r) {
		return
	}
	hours, ok := queryInt(r, "hours", 24, 24*366)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "hours must be a positive integer")
		return
	}
	until := s.Clock.Now()
	since := until.Add(-time.Duration(hours) * time.Hour)
	summary, err := s.db.Summarize(r.Context(), since, until)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to summarize: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	command := r.FormValue("command")
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}
