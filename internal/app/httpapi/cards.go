package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cardverse/token_layer/internal/app/services/interactions"
)

const (
	interactionCorrect     = "correct"
	interactionUnnecessary = "unnecessary"
)

func (h *handler) createCard(w http.ResponseWriter, r *http.Request) {
	var in interactions.CardInput
	if err := decodeJSON(r.Body, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	in.AuthorID = callerID(r)

	result, err := h.app.Interactions.CreateCard(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handler) feed(w http.ResponseWriter, r *http.Request) {
	cards, err := h.app.Interactions.GetFeed(r.Context(), callerID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (h *handler) myCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.app.Interactions.ListMyCards(r.Context(), callerID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (h *handler) getCard(w http.ResponseWriter, r *http.Request) {
	crd, err := h.app.Cards.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, crd)
}

func (h *handler) interact(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		InteractionType string `json:"interaction_type"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cardID := mux.Vars(r)["id"]

	switch payload.InteractionType {
	case interactionCorrect:
		result, err := h.app.Interactions.MarkCorrect(r.Context(), cardID, callerID(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case interactionUnnecessary:
		crd, err := h.app.Interactions.MarkUnnecessary(r.Context(), cardID, callerID(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"card": crd})
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("interaction_type must be %q or %q", interactionCorrect, interactionUnnecessary))
	}
}
