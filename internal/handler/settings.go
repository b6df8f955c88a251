package handler

import (
	"net/http"

	"github.com/xenking/pointshop/internal/domain/settings"
)

// GetPointPrice returns the current point price.
func (h *Handler) GetPointPrice(w http.ResponseWriter, r *http.Request) {
	p, err := h.settings.Get(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPointPriceResponse(p))
}

// SetPointPrice replaces the point price.
func (h *Handler) SetPointPrice(w http.ResponseWriter, r *http.Request) {
	var req pointPriceRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.settings.SetPointPrice(r.Context(), req.Price, actor(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPointPriceResponse(p))
}

func toPointPriceResponse(p *settings.PointPrice) pointPriceResponse {
	resp := pointPriceResponse{Price: p.Price, UpdatedBy: p.UpdatedBy}
	if !p.UpdatedAt.IsZero() {
		at := p.UpdatedAt
		resp.UpdatedAt = &at
	}
	return resp
}
