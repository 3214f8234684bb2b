package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)
	emailRegex    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

const (
	maxJSONBodyBytes  = 1 << 20
	refreshCookieName = "refreshToken"
	refreshHeaderName = "X-Refresh-Token"
)

type Handler struct {
	authority     *Authority
	secureCookies bool
}

func NewHandler(authority *Authority, secureCookies bool) *Handler {
	return &Handler{authority: authority, secureCookies: secureCookies}
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type suspendRequest struct {
	Amount int        `json:"amount"`
	Unit   string     `json:"unit"`
	Until  *time.Time `json:"until"`
	Reason string     `json:"reason"`
}

type loginResponse struct {
	Message      string     `json:"message"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresIn    int64      `json:"expiresIn"`
	User         PublicUser `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(strings.ToLower(body.Username))
	body.Email = normalizeEmail(body.Email)
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "invalid_input", "username format is invalid")
		return
	}
	if !emailRegex.MatchString(body.Email) {
		writeError(w, http.StatusBadRequest, "invalid_input", "email format is invalid")
		return
	}
	if len(body.Password) < 8 || len(body.Password) > 200 {
		writeError(w, http.StatusBadRequest, "invalid_input", "password must be 8 to 200 characters")
		return
	}
	if body.Password != body.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "invalid_input", "passwords do not match")
		return
	}

	user, err := h.authority.Register(r.Context(), RegisterInput{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			writeError(w, http.StatusBadRequest, "duplicate_user", "user already exists")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "user registered",
		"user":    user.Public(),
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = normalizeEmail(body.Email)
	if !emailRegex.MatchString(body.Email) || body.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "email and password are required")
		return
	}

	pair, user, err := h.authority.IssueTokenPair(r.Context(), body.Email, body.Password)
	if err != nil {
		var suspended *SuspendedError
		switch {
		case errors.As(err, &suspended):
			writeSuspended(w, suspended)
		case errors.Is(err, ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid credentials")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to login")
		}
		return
	}

	h.setRefreshCookie(w, string(pair.RefreshToken), pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{
		Message:      "login successful",
		AccessToken:  string(pair.AccessToken),
		RefreshToken: string(pair.RefreshToken),
		ExpiresIn:    int64(h.authority.AccessTTL().Seconds()),
		User:         user.Public(),
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := refreshTokenFromRequest(w, r)
	if !ok {
		return
	}
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "missing_token", "refresh token is required")
		return
	}

	access, expiresAt, err := h.authority.Refresh(r.Context(), RefreshToken(raw))
	if err != nil {
		var suspended *SuspendedError
		switch {
		case errors.As(err, &suspended):
			writeSuspended(w, suspended)
		case errors.Is(err, ErrInvalidToken):
			writeError(w, http.StatusForbidden, "invalid_token", "invalid or expired refresh token")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to refresh token")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": string(access),
		"expiresAt":   expiresAt,
	})
}

// Logout only clears the cookie; refresh tokens are stateless.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Suspend(w http.ResponseWriter, r *http.Request) {
	var body suspendRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	until, err := suspensionEnd(body, h.authority.now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	user, err := h.authority.Suspend(r.Context(), r.PathValue("id"), until, body.Reason)
	if err != nil {
		h.writeAdminError(w, err, "failed to suspend user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "user suspended", "user": user.Public()})
}

func (h *Handler) Unsuspend(w http.ResponseWriter, r *http.Request) {
	user, err := h.authority.Unsuspend(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAdminError(w, err, "failed to unsuspend user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "user unsuspended", "user": user.Public()})
}

func (h *Handler) writeAdminError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal", fallback)
	}
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(h.authority.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// ExchangeHandler serves POST /token/exchange on resource services.
type ExchangeHandler struct {
	exchange *Exchange
	recorder RejectRecorder
}

func NewExchangeHandler(exchange *Exchange, recorder RejectRecorder) *ExchangeHandler {
	return &ExchangeHandler{exchange: exchange, recorder: recorder}
}

type exchangeRequest struct {
	Audience string `json:"audience"`
}

func (h *ExchangeHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		rejected(h.recorder, string(KeyClassAccess), "missing")
		writeError(w, http.StatusUnauthorized, "missing_token", "missing authorization token")
		return
	}

	var body exchangeRequest
	if !decodeOptionalJSON(w, r, &body) {
		return
	}

	result, err := h.exchange.Exchange(r.Context(), AccessToken(raw), strings.TrimSpace(body.Audience))
	if err != nil {
		switch {
		case errors.Is(err, ErrUntrustedIssuer):
			rejected(h.recorder, string(KeyClassAccess), "untrusted_issuer")
			writeError(w, http.StatusForbidden, "untrusted_issuer", "untrusted token issuer")
		case errors.Is(err, ErrInvalidAudience):
			writeError(w, http.StatusForbidden, "invalid_audience", "audience not allowed")
		case errors.Is(err, ErrInvalidToken):
			rejected(h.recorder, string(KeyClassAccess), "invalid")
			writeError(w, http.StatusForbidden, "invalid_token", "invalid or expired token")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to exchange token")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":     string(result.Token),
		"tokenType": "Bearer",
		"audience":  result.Audience,
		"expiresAt": result.ExpiresAt,
	})
}

// refreshTokenFromRequest prefers a token the caller passed explicitly (Bearer,
// body, X-Refresh-Token) over the cookie, so a stale browser cookie cannot
// shadow it.
func refreshTokenFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	if raw, ok := bearerToken(r); ok {
		return raw, true
	}

	var body refreshRequest
	if !decodeOptionalJSON(w, r, &body) {
		return "", false
	}
	if token := strings.TrimSpace(body.RefreshToken); token != "" {
		return token, true
	}
	if token := strings.TrimSpace(r.Header.Get(refreshHeaderName)); token != "" {
		return token, true
	}

	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		return strings.TrimSpace(cookie.Value), true
	}
	return "", true
}

func suspensionEnd(body suspendRequest, now time.Time) (time.Time, error) {
	if body.Until != nil {
		return body.Until.UTC(), nil
	}
	if body.Amount <= 0 {
		return time.Time{}, errors.New("amount must be positive or until must be set")
	}

	var unit time.Duration
	switch strings.ToLower(strings.TrimSpace(body.Unit)) {
	case "minutes":
		unit = time.Minute
	case "hours":
		unit = time.Hour
	case "days":
		unit = 24 * time.Hour
	default:
		return time.Time{}, errors.New("unit must be minutes, hours or days")
	}
	return now.Add(time.Duration(body.Amount) * unit), nil
}

func writeSuspended(w http.ResponseWriter, err *SuspendedError) {
	writeJSON(w, http.StatusForbidden, map[string]any{
		"error":            "account suspended",
		"code":             "suspended",
		"suspendedUntil":   err.Until,
		"suspensionReason": err.Reason,
	})
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

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
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
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
