// Package chi provides x402 payment middleware for chi routers.
package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	x402http "github.com/x402-foundation/x402-go/http"
)

// Middleware returns a chi-compatible middleware guarding the router with
// the payment handshake. The service's own route table decides which
// requests require payment; chi only carries the middleware.
func Middleware(service *x402http.ResourceService) func(http.Handler) http.Handler {
	return service.Middleware
}

// Protect mounts the payment middleware on a router.
func Protect(r chi.Router, service *x402http.ResourceService) {
	r.Use(Middleware(service))
}
