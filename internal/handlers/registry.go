package handlers

import (
	"net/http"
	"time"

	"github.com/civichain/votegate/internal/registry"
	"github.com/go-chi/chi/v5"

	pkghttp "github.com/civichain/votegate/pkg/http"
)

// RegistryHandler exposes the reference-image registry to operators.
// Routes using it sit behind the admin API key.
type RegistryHandler struct {
	store *registry.Store
}

// NewRegistryHandler creates a new RegistryHandler
func NewRegistryHandler(store *registry.Store) *RegistryHandler {
	return &RegistryHandler{store: store}
}

// RegistryEntryResponse represents one registered reference image
type RegistryEntryResponse struct {
	IdentityKey string `json:"identity_key"`
	FileName    string `json:"file_name"`
	Source      string `json:"source"`
	AddedAt     string `json:"added_at"`
}

// List returns all registered reference images, newest first.
func (h *RegistryHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List()
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to read registry")
		return
	}

	resp := make([]RegistryEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, RegistryEntryResponse{
			IdentityKey: e.IdentityKey,
			FileName:    e.FileName,
			Source:      e.Source,
			AddedAt:     e.AddedAt.UTC().Format(time.RFC3339),
		})
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Remove deletes the reference image for an identity key.
func (h *RegistryHandler) Remove(w http.ResponseWriter, r *http.Request) {
	identityKey := chi.URLParam(r, "identityKey")
	if identityKey == "" {
		pkghttp.WriteBadRequest(w, "identityKey is required")
		return
	}

	if err := h.store.Remove(identityKey); err != nil {
		pkghttp.WriteError(w, http.StatusNotFound, "not_found", "No reference image registered for identity")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
