package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"pdfsqueeze/internal/metrics"
)

type errorResponse struct {
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func countRequest(m *metrics.Metrics, route string, status int) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
