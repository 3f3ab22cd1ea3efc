package response

import (
	"encoding/json"
	"net/http"
)

// envelope is the uniform response shape: status mirrors the HTTP status
// code, msg is human readable, data carries the payload when present.
type envelope struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Data   any    `json:"data,omitempty"`
}

// OK writes a 200 envelope with the given payload.
func OK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Status: http.StatusOK, Msg: "success", Data: data})
}

// Fail writes a non-200 envelope. The message is shown to API callers, so
// business misses keep it generic.
func Fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Status: status, Msg: msg})
}

// FailWithData writes a non-200 envelope carrying a payload, used by the
// diagnostic path.
func FailWithData(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, envelope{Status: status, Msg: msg, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
