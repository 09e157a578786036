package api

import "github.com/starford/cardsync/internal/contactservice"

// ContactListItem is a lightweight item in a list response (aliased from the domain layer).
type ContactListItem = contactservice.ContactListItem

// ContactDetail is the full contact response type.
type ContactDetail = contactservice.ContactDetail

// QueueStatus is the queue response type.
type QueueStatus = contactservice.QueueStatus

// ProviderStatus is the provider settings response type.
type ProviderStatus = contactservice.ProviderStatus

// ContactListResponse wraps paginated contact listings.
type ContactListResponse struct {
	Contacts []ContactListItem `json:"contacts"`
	Total    int               `json:"total"`
}

// BackupAllResponse reports how many contacts were queued.
type BackupAllResponse struct {
	Queued int `json:"queued"`
}

// SetEnabledRequest is the request body for PUT /settings/enabled.
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// ConfigureProviderRequest is the request body for PUT /settings/provider.
// Profile fields are ignored for the default provider.
type ConfigureProviderRequest struct {
	Provider     string `json:"provider"`
	URL          string `json:"url,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	CanProvision bool   `json:"can_provision,omitempty"`
}
