package httpserver

import (
	"net/http"
	"time"
)

// New builds the control API server. Write timeouts stay unset because
// a trigger request holds its connection while the lane scan and
// persistence complete; the router applies its own request timeout.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
