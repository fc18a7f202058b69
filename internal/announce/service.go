package announce

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/storefront-cart/internal/common"
	"github.com/noah-isme/storefront-cart/internal/kvstore"
)

const dismissedPrefix = "announcement:dismissed:"

// Service tracks which storefront announcements the shopper has dismissed,
// persisted through the injected key-value store so the choice survives
// sessions.
type Service struct {
	Store kvstore.Store
}

// Dismiss marks an announcement as dismissed.
func (s Service) Dismiss(ctx context.Context, id string) error {
	if s.Store == nil {
		return errors.New("announce: store not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("announce: announcement id required")
	}
	return s.Store.Set(ctx, dismissedPrefix+id, "1")
}

// Restore clears a dismissal so the announcement shows again.
func (s Service) Restore(ctx context.Context, id string) error {
	if s.Store == nil {
		return errors.New("announce: store not configured")
	}
	return s.Store.Delete(ctx, dismissedPrefix+strings.TrimSpace(id))
}

// Dismissed reports whether the announcement was dismissed.
func (s Service) Dismissed(ctx context.Context, id string) (bool, error) {
	if s.Store == nil {
		return false, errors.New("announce: store not configured")
	}
	_, err := s.Store.Get(ctx, dismissedPrefix+strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Handler exposes announcement dismissal over HTTP.
type Handler struct {
	Svc Service
}

// Routes mounts the announcement endpoints on the provided router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/announcements/{id}", h.Get)
	r.Post("/announcements/{id}/dismiss", h.Dismiss)
	r.Delete("/announcements/{id}/dismiss", h.Restore)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	dismissed, err := h.Svc.Dismissed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"dismissed": dismissed}})
}

func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Dismiss(r.Context(), chi.URLParam(r, "id")); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"dismissed": true}})
}

func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Restore(r.Context(), chi.URLParam(r, "id")); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"dismissed": false}})
}
