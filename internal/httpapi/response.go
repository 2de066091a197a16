// Package httpapi holds the JSON response conventions shared by the
// bootstrap admin endpoint and the client and trainer control surfaces:
// a uniform {status, result} / {status, error} envelope and the decoded
// /command request body. The unknown-command error lives in package errs.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform response body for every coordination endpoint.
type Envelope struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WriteOK writes a 200 {status:"ok", result} response.
func WriteOK(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, Envelope{Status: "ok", Result: result})
}

// WriteError writes an {status:"error", error} response with the given
// status code: 400 for malformed input, 500 for an internal error.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, Envelope{Status: "error", Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
