// Package api implements the HTTP API server for Coffer.
package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
)

// WriteJSON encodes data before touching w, so an encoding failure still
// produces a clean 500.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		log.Printf("[api] encode response: %v", err)
		http.Error(w, `{"error":{"code":"INTERNAL","message":"internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// ErrorResponse is the error envelope: {"error":{"code":...,"message":...}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// PageResponse is the list envelope. Total counts all matches, not just
// the returned page.
type PageResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// writePage writes one page of all with 200 OK.
func writePage[T any](w http.ResponseWriter, all []T, p listParams) {
	WriteJSON(w, http.StatusOK, PageResponse[T]{
		Items:  page(all, p),
		Total:  len(all),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
}
