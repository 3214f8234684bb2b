package trade

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"barter-exchange/internal/auth"
	"barter-exchange/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type proposeRequest struct {
	ReceiverID  string `json:"receiverId"`
	ItemID      string `json:"itemId"`
	PivotItemID string `json:"pivotItemId"`
}

type offerRequest struct {
	Items     []string `json:"items"`
	CashOffer *Money   `json:"cashOffer"`
}

type statusRequest struct {
	Status Status `json:"status"`
}

type proposeResponse struct {
	Trade   Trade `json:"trade"`
	Created bool  `json:"created"`
}

func (h *Handler) Propose(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var body proposeRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	t, created, err := h.service.Propose(r.Context(), ProposeInput{
		InitiatorID:    actor.ID,
		ReceiverID:     strings.TrimSpace(body.ReceiverID),
		ReceiverItemID: body.ItemID,
		PivotItemID:    body.PivotItemID,
	})
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, proposeResponse{Trade: t, Created: created})
}

func (h *Handler) ListForUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	summaries, err := h.service.ListForUser(r.Context(), actor, r.PathValue("userId"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), r.PathValue("tradeId"), actor)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var body offerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	t, err := h.service.UpdateOffer(r.Context(), OfferInput{
		TradeID: r.PathValue("tradeId"),
		ActorID: actor.ID,
		Items:   body.Items,
		Cash:    body.CashOffer,
	})
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var body statusRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	t, err := h.service.UpdateStatus(r.Context(), r.PathValue("tradeId"), actor.ID, Status(strings.ToLower(strings.TrimSpace(string(body.Status)))))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	trades, err := h.service.ListAll(r.Context())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// ActorFromRequest reads the verified identity placed on the context by auth.RequireToken.
func ActorFromRequest(r *http.Request) (Actor, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity.SubjectID == "" {
		return Actor{}, false
	}
	return Actor{ID: identity.SubjectID, Admin: identity.IsAdmin()}, true
}

func actorFromRequest(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actor, ok := ActorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing authorization token")
	}
	return actor, ok
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteServiceError maps trade and ledger errors onto HTTP responses.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Code: "forbidden"})
	case errors.Is(err, ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "conflict", Retryable: true})
	case errors.Is(err, ErrItemsUnavailable):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "items_unavailable"})
	case errors.Is(err, ErrInvalidTransition):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "invalid_transition"})
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_input"})
	default:
		observability.CaptureRequestError(r, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: "internal"})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
