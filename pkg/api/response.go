package api

import (
	"encoding/json"
	"net/http"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/aisu-os/core/pkg/log"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Detail string `json:"detail"`
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps a structured error onto its status code and detail body.
func writeError(w http.ResponseWriter, err error) {
	code := apperr.StatusCode(err)
	if code >= http.StatusInternalServerError {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, errorBody{Detail: apperr.Detail(err)})
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.New(apperr.ValidationFailed, "Invalid JSON body")
	}
	return nil
}
