// Package api contains helpers for JSON API handlers.
package api

import (
	"encoding/json"
	"net/http"
)

// JSONError encodes err as JSON to w.
// A statusCode below 1 responds with an internal server error.
func JSONError(w http.ResponseWriter, err error, statusCode int) {
	jsonErr := &struct {
		Err string `json:"error"`
	}{Err: err.Error()}
	w.Header().Set("Content-type", "application/json")
	if statusCode < 1 {
		statusCode = http.StatusInternalServerError
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(jsonErr)
}

// WriteJSON writes an already encoded JSON document to w.
func WriteJSON(w http.ResponseWriter, doc []byte) error {
	w.Header().Set("Content-type", "application/json")
	_, err := w.Write(doc)
	return err
}
