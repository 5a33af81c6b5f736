package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/service"
	"github.com/hyperjump/tanya/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: "bad_request"})
}

// errorCode returns the status and machine-readable code for err.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusBadRequest, models.Kind(err)
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout, models.Kind(err)
	case errors.Is(err, models.ErrConcurrentWrite):
		return http.StatusConflict, models.Kind(err)
	default:
		return http.StatusInternalServerError, models.Kind(err)
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status, code := errorCode(err)
	respondJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}
