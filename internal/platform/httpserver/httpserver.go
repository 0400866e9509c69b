package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with the timeouts used by every portal listener.
// Write timeout is generous because document downloads stream from blob storage.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}
