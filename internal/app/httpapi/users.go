package httpapi

import (
	"net/http"

	"github.com/cardverse/token_layer/internal/app/services/accounts"
)

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Username string `json:"username"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Accounts.Create(r.Context(), payload.Email, payload.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	token, err := h.issuer.Issue(created.ID, created.Email)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Error("issue token")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": created, "token": token})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Accounts.Get(r.Context(), callerID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) updateMe(w http.ResponseWriter, r *http.Request) {
	var update accounts.ProfileUpdate
	if err := decodeJSON(r.Body, &update); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := h.app.Accounts.UpdateProfile(r.Context(), callerID(r), update)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
