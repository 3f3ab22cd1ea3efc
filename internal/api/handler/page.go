package handler

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed page.html
var challengePage []byte

// Page serves the static challenge page. The page itself polls the status
// endpoint for the provider id and, once verified, the code.
func Page(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "ticket") == "" {
		http.Error(w, "invalid verification link", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(challengePage)
}
