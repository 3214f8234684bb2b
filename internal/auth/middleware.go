package auth

import (
	"errors"
	"net/http"
	"strings"
)

type RejectRecorder interface {
	TokenRejected(class, reason string)
}

// RequireToken admits requests whose bearer token satisfies verifier's policy and
// stores the resulting Identity on the request context.
func RequireToken(verifier *Verifier, recorder RejectRecorder, next http.Handler) http.Handler {
	class := string(verifier.Policy().KeyClass)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := bearerToken(r)
		if !ok {
			rejected(recorder, class, "missing")
			writeError(w, http.StatusUnauthorized, "missing_token", "missing authorization token")
			return
		}

		identity, err := verifier.Verify(tokenStr)
		if err != nil {
			if errors.Is(err, ErrUntrustedIssuer) {
				rejected(recorder, class, "untrusted_issuer")
				writeError(w, http.StatusForbidden, "untrusted_issuer", "untrusted token issuer")
				return
			}
			rejected(recorder, class, "invalid")
			writeError(w, http.StatusForbidden, "invalid_token", "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

func RequireRole(role Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "missing authorization token")
			return
		}
		if identity.Role != role {
			writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	tokenStr := strings.TrimSpace(parts[1])
	return tokenStr, tokenStr != ""
}

func rejected(recorder RejectRecorder, class, reason string) {
	if recorder != nil {
		recorder.TokenRejected(class, reason)
	}
}
