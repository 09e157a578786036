package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/cardsync/internal/carddav"
	"github.com/starford/cardsync/internal/contactservice"
	"github.com/starford/cardsync/internal/credstore"
)

// Handler holds API route handlers.
type Handler struct {
	svc *contactservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *contactservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListContacts handles GET /api/contacts.
//
//	@Summary		List contacts with their last backup outcome
//	@Tags			contacts
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			outcome	query		string	false	"Filter by last outcome"	Enums(pushed, requeued, dropped, abandoned, none)
//	@Success		200		{object}	ContactListResponse
//	@Security		BearerAuth
//	@Router			/contacts [get]
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListContacts(r.Context(), limit, offset, q.Get("outcome"))
	if err != nil {
		writeError(w, "list contacts", err)
		return
	}
	if items == nil {
		items = []ContactListItem{}
	}
	writeJSON(w, http.StatusOK, ContactListResponse{Contacts: items, Total: total})
}

// GetContact handles GET /api/contacts/{id}.
//
//	@Summary		Get a contact record and its backup state
//	@Tags			contacts
//	@Produce		json
//	@Param			id	path		string	true	"Contact id"
//	@Success		200	{object}	ContactDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/contacts/{id} [get]
func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.svc.GetContact(r.Context(), id)
	if err != nil {
		writeError(w, "get contact", err, slog.String("contact_id", id))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetVCard handles GET /api/contacts/{id}/vcard.
//
//	@Summary		Render a contact as vCard 4.0
//	@Tags			contacts
//	@Produce		text/vcard
//	@Param			id	path		string	true	"Contact id"
//	@Success		200	{string}	string
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/contacts/{id}/vcard [get]
func (h *Handler) GetVCard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, err := h.svc.EncodeContact(r.Context(), id)
	if err != nil {
		writeError(w, "encode contact", err, slog.String("contact_id", id))
		return
	}
	w.Header().Set("Content-Type", carddav.VCardContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// BackupContact handles POST /api/contacts/{id}/backup.
//
//	@Summary		Queue a contact for backup
//	@Tags			backup
//	@Param			id	path		string	true	"Contact id"
//	@Success		202	{object}	QueueStatus
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/contacts/{id}/backup [post]
func (h *Handler) BackupContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Backup(r.Context(), id); err != nil {
		writeError(w, "backup contact", err, slog.String("contact_id", id))
		return
	}
	writeJSON(w, http.StatusAccepted, h.svc.Queue(r.Context()))
}

// RestoreContact handles POST /api/contacts/{id}/restore.
//
//	@Summary		Fetch the provider copy of a contact
//	@Tags			backup
//	@Produce		json
//	@Param			id		path		string	true	"Contact id"
//	@Param			save	query		bool	false	"Overwrite the local record"
//	@Success		200		{object}	models.Contact
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/contacts/{id}/restore [post]
func (h *Handler) RestoreContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	save, _ := strconv.ParseBool(r.URL.Query().Get("save"))
	c, err := h.svc.Restore(r.Context(), id, save)
	if err != nil {
		writeError(w, "restore contact", err, slog.String("contact_id", id))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// BackupAll handles POST /api/backup.
//
//	@Summary		Queue every contact for backup
//	@Tags			backup
//	@Success		202	{object}	BackupAllResponse
//	@Security		BearerAuth
//	@Router			/backup [post]
func (h *Handler) BackupAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.BackupAll(r.Context())
	if err != nil {
		writeError(w, "backup all", err)
		return
	}
	writeJSON(w, http.StatusAccepted, BackupAllResponse{Queued: n})
}

// Queue handles GET /api/queue.
//
//	@Summary		Backup queue state
//	@Tags			backup
//	@Produce		json
//	@Success		200	{object}	QueueStatus
//	@Security		BearerAuth
//	@Router			/queue [get]
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Queue(r.Context()))
}

// SetEnabled handles PUT /api/settings/enabled.
//
//	@Summary		Enable or disable backups
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SetEnabledRequest	true	"Enabled flag"
//	@Success		200		{object}	QueueStatus
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings/enabled [put]
func (h *Handler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("enabled is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.svc.SetEnabled(r.Context(), *req.Enabled))
}

// GetProvider handles GET /api/settings/provider.
//
//	@Summary		Selected provider
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	ProviderStatus
//	@Security		BearerAuth
//	@Router			/settings/provider [get]
func (h *Handler) GetProvider(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Provider(r.Context())
	if err != nil {
		writeError(w, "get provider", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ConfigureProvider handles PUT /api/settings/provider.
//
//	@Summary		Select and configure the backup provider
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ConfigureProviderRequest	true	"Provider settings"
//	@Success		200		{object}	ProviderStatus
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings/provider [put]
func (h *Handler) ConfigureProvider(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ConfigureProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	var profile *credstore.Profile
	if req.URL != "" {
		profile = &credstore.Profile{
			URL:          req.URL,
			CanProvision: req.CanProvision,
			Username:     req.Username,
			Password:     req.Password,
		}
	}
	status, err := h.svc.ConfigureProvider(r.Context(), req.Provider, profile)
	if err != nil {
		writeError(w, "configure provider", err, slog.String("provider", req.Provider))
		return
	}
	writeJSON(w, http.StatusOK, status)
}
