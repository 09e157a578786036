package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/cardsync/internal/contactservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *contactservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Contacts.
	r.Get("/contacts", h.ListContacts)
	r.Get("/contacts/{id}", h.GetContact)
	r.Get("/contacts/{id}/vcard", h.GetVCard)
	r.Post("/contacts/{id}/backup", h.BackupContact)
	r.Post("/contacts/{id}/restore", h.RestoreContact)

	// Queue.
	r.Get("/queue", h.Queue)
	r.Post("/backup", h.BackupAll)

	// Settings.
	r.Put("/settings/enabled", h.SetEnabled)
	r.Get("/settings/provider", h.GetProvider)
	r.Put("/settings/provider", h.ConfigureProvider)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
