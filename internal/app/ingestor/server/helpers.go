package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/medplane/medplane/internal/pkg/medical"
)

type errorResponse struct {
	Error string `json:"error"`
}

// nolint: errcheck
func respondWithJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parsePositive(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive, got %d", n)
	}
	return n, nil
}

// respondWithError maps the error taxonomy onto HTTP status codes.
func respondWithError(err error, w http.ResponseWriter) {
	var (
		validation  *medical.ValidationError
		unsupported *medical.UnsupportedOperationError
		upstream    *medical.UpstreamError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &unsupported):
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case medical.IsNotFound(err):
		respondWithJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case medical.IsTimeout(err):
		respondWithJSON(w, http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	case errors.As(err, &upstream):
		respondWithJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		respondWithJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
