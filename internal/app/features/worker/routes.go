// internal/app/features/worker/routes.go
package worker

import "github.com/go-chi/chi/v5"

// Routes returns the router for dispatcher callbacks.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/process-invite", h.ServeProcess) // mounted under /internal/tasks
	return r
}
