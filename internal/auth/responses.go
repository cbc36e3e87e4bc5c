// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. All messages are fixed ASCII strings -
// provider and store error text is logged, never sent to the client.
package auth

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, struct {
		Message string `json:"message"`
	}{message})
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

// BadRequest returns a 400 JSON response with the given message.
// Use for malformed, replayed, or stale callbacks.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, http.StatusBadRequest, message)
}

// Unauthorized returns a 401 JSON response with a generic message.
// Keep message generic; the reason goes to the log.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, http.StatusUnauthorized, message)
}

// NotFound returns a 404 JSON response.
func NotFound(w http.ResponseWriter) {
	writeMessage(w, http.StatusNotFound, "not found")
}

// TooManyRequests returns a 429 JSON response.
func TooManyRequests(w http.ResponseWriter) {
	writeMessage(w, http.StatusTooManyRequests, "too many requests")
}

// BadGateway returns a 502 JSON response when a provider could not be reached.
func BadGateway(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "upstream provider failure", "error", err)
	writeMessage(w, http.StatusBadGateway, "upstream provider error")
}
