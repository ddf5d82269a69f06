// internal/app/features/invites/routes.go
package invites

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns the router for invite creation. Authentication and rate
// limiting are applied by the caller through mw.
func Routes(h *Handler, mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)
	r.Post("/", h.ServeCreate) // mounted under /api/invites
	return r
}
