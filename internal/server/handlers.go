package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/dexft/dexft/internal/api"
	"github.com/dexft/dexft/internal/controller"
	daemonruntime "github.com/dexft/dexft/internal/runtime"
	"github.com/dexft/dexft/internal/version"
)

const maxToggleBodyBytes = 1 << 10

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[APIServer] failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var services []daemonruntime.ServiceStatus
	if s.services != nil {
		services = s.services.Services()
	}
	dto := api.ToStatusDTO(s.ctrl.Snapshot(), s.toggle.View(), version.Current(), s.startTime(), services)
	writeJSON(w, http.StatusOK, dto)
}

func (s *APIServer) handleToggle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
		writeJSON(w, http.StatusOK, api.ToToggleDTO(s.toggle.View()))
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req api.ToggleRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxToggleBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	view := s.toggle.OnToggle(r.Context(), *req.Enabled)
	writeJSON(w, http.StatusOK, api.ToToggleDTO(view))
}

func (s *APIServer) handleAddress(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	view := s.toggle.View()
	writeJSON(w, http.StatusOK, api.AddressDTO{
		Running: view.State == string(controller.Running),
		Address: view.Address,
		Status:  view.Status,
	})
}

func (s *APIServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.media == nil {
		writeError(w, http.StatusNotImplemented, "media index not available")
		return
	}
	files, err := s.media.ListMedia(r.Context())
	if err != nil {
		log.Printf("[APIServer] list media: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list media")
		return
	}
	writeJSON(w, http.StatusOK, api.MediaListDTO{Files: api.ToMediaDTOList(files)})
}

func (s *APIServer) handleDaemonShutdown(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Triggered asynchronously so we can return 202 immediately.
	if !s.RequestShutdown() {
		writeError(w, http.StatusNotImplemented, "daemon shutdown not available")
		return
	}

	writeJSON(w, http.StatusAccepted, api.ShutdownDTO{
		Status:  "shutting_down",
		Message: "daemon shutdown initiated",
	})
}
