package wizard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jcopacetic/definit/internal/repository"
)

// Handler exposes the setup wizard as an HTTP endpoint.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with the wizard routes.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/start"):
		h.handleStart(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/workbook"):
		h.handleSelectWorkbook(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/sheets"):
		h.handleInspect(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/worksheet"):
		h.handleSelectWorksheet(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/complete"):
		h.handleComplete(w, r)
	case r.Method == http.MethodGet:
		h.handleResume(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// runID extracts the run identifier path segment, e.g.
// /wizard/{id}/worksheet.
func runID(r *http.Request) (uuid.UUID, error) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for _, part := range parts {
		if id, err := uuid.Parse(part); err == nil {
			return id, nil
		}
	}
	return uuid.Nil, fmt.Errorf("no run id in path %q", r.URL.Path)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload struct {
		CustomerID string `json:"customerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	customerID, err := uuid.Parse(payload.CustomerID)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid customer id: %v", err), http.StatusBadRequest)
		return
	}

	run, err := h.service.Start(r.Context(), customerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	run, err := h.service.Resume(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "wizard run not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleSelectWorkbook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	id, err := runID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var payload struct {
		WorkbookID   string `json:"workbookId"`
		WorkbookName string `json:"workbookName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.WorkbookID) == "" {
		http.Error(w, "workbookId is required", http.StatusBadRequest)
		return
	}

	run, err := h.service.SelectWorkbook(r.Context(), id, payload.WorkbookID, payload.WorkbookName)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "wizard run not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleInspect(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sheets, err := h.service.InspectWorkbook(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "wizard run not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, sheets)
}

func (h *Handler) handleSelectWorksheet(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	id, err := runID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var payload struct {
		WorksheetName string `json:"worksheetName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.WorksheetName) == "" {
		http.Error(w, "worksheetName is required", http.StatusBadRequest)
		return
	}

	run, err := h.service.SelectWorksheet(r.Context(), id, payload.WorksheetName)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "wizard run not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	binding, err := h.service.Complete(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "wizard run not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, binding)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
