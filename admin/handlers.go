package admin

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type handlers struct {
	job JobInspector
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.job.Status())
}

func (h *handlers) handleTables(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.job.Status().Tables)
}

func (h *handlers) handleOffsets(w http.ResponseWriter, r *http.Request) {
	offsets := h.job.Offsets()
	out := make(map[string]string, len(offsets))
	for table, pos := range offsets {
		out[table] = pos.String()
	}
	writeJSONResponse(w, out)
}

func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
