package handler

import (
	"net/http"

	"github.com/xenking/pointshop/internal/domain/points"
)

// PointsBalance returns the caller's balance.
func (h *Handler) PointsBalance(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	bal, err := h.ledger.Balance(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: user, Balance: bal})
}

// PointsHistory returns a page of the caller's ledger entries, newest first.
func (h *Handler) PointsHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	entries, total, err := h.ledger.History(r.Context(), UserFromContext(r.Context()),
		points.Page{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := historyResponse{
		Entries: make([]entryResponse, len(entries)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}
	for i, e := range entries {
		resp.Entries[i] = toEntryResponse(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

// SpendPoints debits the caller's balance for a non-order purchase.
func (h *Handler) SpendPoints(w http.ResponseWriter, r *http.Request) {
	var req spendPointsRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.ledger.Debit(r.Context(), points.Mutation{
		UserID: UserFromContext(r.Context()),
		Amount: req.Amount,
		Reason: points.Reason(req.Reason),
		Note:   req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(*e))
}

// GrantPoints credits a user, or debits them for a negative amount.
func (h *Handler) GrantPoints(w http.ResponseWriter, r *http.Request) {
	var req grantPointsRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m := points.Mutation{
		UserID: req.UserID,
		Amount: req.Amount,
		Reason: points.ReasonAdminGrant,
		Note:   req.Note,
	}
	var (
		e   *points.Entry
		err error
	)
	if req.Amount < 0 {
		m.Amount = -req.Amount
		m.Reason = points.ReasonAdminDeduct
		e, err = h.ledger.Debit(r.Context(), m)
	} else {
		e, err = h.ledger.Credit(r.Context(), m)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(*e))
}
