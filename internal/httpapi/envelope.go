// Package httpapi provides the shared {status, message, ...} JSON envelope
// every service's HTTP surface replies with.
package httpapi

import (
	"encoding/json"
	"net/http"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Envelope is embedded (via anonymous struct composition at the call site)
// or used standalone for payload-less acknowledgements.
type Envelope struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes payload as the HTTP body with the given status code.
// payload is expected to already carry a "status" field — handlers build
// it with a literal struct embedding Envelope plus their own fields.
func WriteJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// WriteOK writes a 200 response.
func WriteOK(w http.ResponseWriter, payload interface{}) {
	WriteJSON(w, http.StatusOK, payload)
}

// WriteAck writes a bare success/failure acknowledgement with no payload.
func WriteAck(w http.ResponseWriter) {
	WriteOK(w, Envelope{Status: StatusSuccess})
}

// WriteError writes a failure envelope at the given HTTP status code. Used
// for protocol/validation errors (4xx) and internal invariant violations
// (5xx) alike — the caller picks the code.
func WriteError(w http.ResponseWriter, code int, message string) {
	WriteJSON(w, code, Envelope{Status: StatusFailure, Message: message})
}

// DecodeJSON decodes the request body into dst, replying 400 and returning
// false on failure so handlers can `if !DecodeJSON(...) { return }`.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}
