// internal/app/features/chatwebhook/routes.go
package chatwebhook

import "github.com/go-chi/chi/v5"

// Routes returns the router for chat-platform webhooks.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.ServeUpdate) // mounted under /webhooks/telegram
	return r
}
