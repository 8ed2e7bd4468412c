package httpx

import (
	"encoding/json"
	"net/http"
)

// Envelope is the JSON shape of every admin and error response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

func WriteSuccess(w http.ResponseWriter, status int, message string, result any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Result: result})
}

func WriteError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
