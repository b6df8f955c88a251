package handler

import "net/http"

// ListProducts returns the active catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = h.toProductResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}
