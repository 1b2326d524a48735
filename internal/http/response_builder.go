package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"lancamentos/internal/ports"
	"lancamentos/internal/rest"
	"lancamentos/internal/services"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps a service error to the response status and the message
// safe to show the client.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound, "entry not found"
	case errors.Is(err, rest.ErrUnauthorized):
		return http.StatusBadGateway, "upstream rejected credentials"
	default:
		return http.StatusBadGateway, "upstream unavailable"
	}
}
