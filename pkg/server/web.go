package server

import (
	_ "embed"
	"net/http"
)

//go:embed assets/web.html
var webPage []byte

// handleWeb serves the browser form for manual claim scoring
func (s *Server) handleWeb(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(webPage); err != nil {
		s.logger.Error("Failed to write web page", "error", err)
	}
}
