package item

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"barter-exchange/internal/auth"
	"barter-exchange/internal/observability"
)

var allowedURLChars = regexp.MustCompile(`^[A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=%]+$`)
var allowedHost = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)

const maxJSONBodyBytes = 1 << 20

type Store interface {
	List(ctx context.Context, filter Filter) ([]Item, error)
	Get(ctx context.Context, id string) (Item, error)
	Create(ctx context.Context, sellerID string, input Input) (Item, error)
	Update(ctx context.Context, id string, input Input) (Item, error)
	Delete(ctx context.Context, id string) error
	Review(ctx context.Context, id string, status Status, note string) (Item, error)
}

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

type reviewRequest struct {
	Note string `json:"note"`
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context(), Filter{ListedOnly: true, SellerID: r.URL.Query().Get("seller")})
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list items")
		return
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	it, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err, "failed to load item")
		return
	}

	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing authorization token")
		return
	}

	items, err := h.store.List(r.Context(), Filter{SellerID: identity.SubjectID})
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list items")
		return
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing authorization token")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	it, err := h.store.Create(r.Context(), identity.SubjectID, input)
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to create item")
		return
	}

	writeJSON(w, http.StatusCreated, it)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, ok := h.ownedItem(w, r, id); !ok {
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	it, err := h.store.Update(r.Context(), id, input)
	if err != nil {
		h.writeStoreError(w, r, err, "failed to update item")
		return
	}

	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, ok := h.ownedItem(w, r, id); !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err, "failed to delete item")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, StatusApproved)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, StatusRejected)
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request, status Status) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body reviewRequest
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
			return
		}
	}
	note := strings.TrimSpace(body.Note)
	if len(note) > 500 {
		writeError(w, http.StatusBadRequest, "invalid_input", "note is too long")
		return
	}

	if _, err := h.store.Get(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err, "failed to review item")
		return
	}

	it, err := h.store.Review(r.Context(), id, status, note)
	if err != nil {
		h.writeStoreError(w, r, err, "failed to review item")
		return
	}

	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) ownedItem(w http.ResponseWriter, r *http.Request, id string) (Item, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing authorization token")
		return Item{}, false
	}

	it, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err, "failed to load item")
		return Item{}, false
	}
	if it.SellerID != identity.SubjectID && !identity.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", ErrForbidden.Error())
		return Item{}, false
	}
	return it, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "item not found")
	case errors.Is(err, ErrUnavailable):
		writeError(w, http.StatusConflict, "unavailable", "item is no longer available")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "internal", fallback)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid item id")
		return "", false
	}
	return id, true
}

func parseInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input Input
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return Input{}, false
	}

	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	input.ImageURL = strings.TrimSpace(input.ImageURL)

	if input.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is required")
		return Input{}, false
	}
	if !utf8.ValidString(input.Name) || len(input.Name) > 150 {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is invalid")
		return Input{}, false
	}
	if !utf8.ValidString(input.Description) || len(input.Description) > 1000 {
		writeError(w, http.StatusBadRequest, "invalid_input", "description is invalid")
		return Input{}, false
	}
	if input.Price < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "price must be >= 0")
		return Input{}, false
	}
	if input.ImageURL == "" {
		return input, true
	}

	if len(input.ImageURL) > 500 || !isASCII(input.ImageURL) || !allowedURLChars.MatchString(input.ImageURL) {
		writeError(w, http.StatusBadRequest, "invalid_input", "imageUrl contains invalid characters")
		return Input{}, false
	}
	parsedURL, err := url.ParseRequestURI(input.ImageURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "imageUrl must be a valid link")
		return Input{}, false
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		writeError(w, http.StatusBadRequest, "invalid_input", "imageUrl must start with http or https")
		return Input{}, false
	}
	if parsedURL.User != nil || !allowedHost.MatchString(parsedURL.Hostname()) {
		writeError(w, http.StatusBadRequest, "invalid_input", "imageUrl host is invalid")
		return Input{}, false
	}

	return input, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func isASCII(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] < 32 || value[i] > 126 {
			return false
		}
	}
	return true
}
