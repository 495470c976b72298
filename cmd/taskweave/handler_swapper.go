package main

import (
	"net/http"
	"sync/atomic"
)

// handlerSwapper serves the panel when it is enabled and a 503 otherwise.
// SIGHUP reloads flip it without restarting the listener.
type handlerSwapper struct {
	panel atomic.Pointer[http.Handler]
}

func newHandlerSwapper() *handlerSwapper {
	return &handlerSwapper{}
}

func (s *handlerSwapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h := s.panel.Load(); h != nil {
		(*h).ServeHTTP(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte(`{"error":"panel disabled"}` + "\n"))
}

// Enable starts serving h.
func (s *handlerSwapper) Enable(h http.Handler) {
	s.panel.Store(&h)
}

// Disable stops serving the panel.
func (s *handlerSwapper) Disable() {
	s.panel.Store(nil)
}

// Enabled reports whether the panel is being served.
func (s *handlerSwapper) Enabled() bool {
	return s.panel.Load() != nil
}
