// Package api exposes the chat backend over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// Pre-marshaled so the last-resort path cannot itself fail.
var fallbackErrorResponse = []byte(`{"error":"internal server error"}`)

// writeJSONResponse marshals first, so an encoding failure never leaves a
// half-written body behind committed headers.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

func writeJSONError(w http.ResponseWriter, statusCode int, msg string) {
	writeJSONResponse(w, statusCode, errorBody{Error: msg})
}
