package message

import (
	"encoding/json"
	"net/http"

	"barter-exchange/internal/trade"
)

const maxJSONBodyBytes = 64 << 10

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

type appendRequest struct {
	TradeID string `json:"tradeId"`
	Content string `json:"content"`
	Kind    Kind   `json:"kind"`
}

func (h *Handler) Append(w http.ResponseWriter, r *http.Request) {
	actor, ok := trade.ActorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing authorization token")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var body appendRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	msg, err := h.ledger.Append(r.Context(), body.TradeID, actor.ID, body.Content, body.Kind)
	if err != nil {
		trade.WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := trade.ActorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing authorization token")
		return
	}

	messages, err := h.ledger.List(r.Context(), r.PathValue("tradeId"), actor)
	if err != nil {
		trade.WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := trade.ActorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing authorization token")
		return
	}

	n, err := h.ledger.MarkRead(r.Context(), r.PathValue("tradeId"), actor)
	if err != nil {
		trade.WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
