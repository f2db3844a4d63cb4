package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"proofrender/internal/httpkit"
)

func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) error {
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"presets": h.catalog.List()})
	return nil
}

func (h *Handler) GetPreset(w http.ResponseWriter, r *http.Request) error {
	p, err := h.catalog.Get(chi.URLParam(r, "name"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, p)
	return nil
}
