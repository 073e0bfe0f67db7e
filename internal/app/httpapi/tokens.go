package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
)

const maxTransactionPage = 500

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	balance, err := h.app.Interactions.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

func (h *handler) transactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxTransactionPage {
		limit = maxTransactionPage
	}

	txs, err := h.app.Ledger.ListTransactions(r.Context(), callerID(r), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *handler) transfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ToUserID string `json:"to_user_id"`
		Amount   int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := h.app.Interactions.Transfer(r.Context(), callerID(r), payload.ToUserID, payload.Amount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *handler) specialContent(w http.ResponseWriter, r *http.Request) {
	tx, err := h.app.Interactions.UnlockSpecialContent(r.Context(), callerID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}
