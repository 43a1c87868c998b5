// Package httpx holds the JSON helpers shared by the sandbox exchange
// handlers. Error bodies carry an "error" field and an optional "detail",
// which is the shape the exchange client parses.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error":      message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	WriteJSON(w, status, resp)
}
