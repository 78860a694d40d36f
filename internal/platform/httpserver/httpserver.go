package httpserver

import (
	"net/http"
	"time"
)

const (
	minWriteTimeout = 15 * time.Second
	responseSlack   = 5 * time.Second
)

// New builds the HTTP server. requestBudget is the longest a handler may
// legitimately run; for registration that is the provisioning timeout plus
// the compensation timeout. The write deadline never cuts such a request off.
func New(addr string, handler http.Handler, requestBudget time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      WriteTimeout(requestBudget),
		IdleTimeout:       120 * time.Second,
	}
}

// WriteTimeout returns the write deadline for requestBudget.
func WriteTimeout(requestBudget time.Duration) time.Duration {
	return max(requestBudget+responseSlack, minWriteTimeout)
}
