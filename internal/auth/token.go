package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeyClass names one signing key. Each class has its own secret and a token of one
// class never verifies under another.
type KeyClass string

const (
	KeyClassAccess  KeyClass = "access"
	KeyClassRefresh KeyClass = "refresh"
	KeyClassService KeyClass = "service"
)

type (
	AccessToken  string
	RefreshToken string
	ServiceToken string
)

// TokenPolicy is declared once per route group: which key verifies it, which issuer
// is trusted and, for service tokens, which audience must be present.
type TokenPolicy struct {
	Issuer   string
	KeyClass KeyClass
	Audience string
}

type Claims struct {
	Role      Role     `json:"role"`
	TokenType KeyClass `json:"token_type"`
	jwt.RegisteredClaims
}

type Signer struct {
	class  KeyClass
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(class KeyClass, key string, issuer string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%s signing key is empty", class)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%s token ttl must be positive", class)
	}
	return &Signer{
		class:  class,
		key:    []byte(key),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (s *Signer) Class() KeyClass {
	return s.class
}

func (s *Signer) TTL() time.Duration {
	return s.ttl
}

func (s *Signer) sign(subject string, role Role, audience []string) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		Role:      role,
		TokenType: s.class,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if len(audience) > 0 {
		claims.Audience = jwt.ClaimStrings(audience)
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", s.class, err)
	}
	return encoded, expiresAt, nil
}

// Verifier checks tokens against exactly one key and one policy. There is no fallback
// to other keys.
type Verifier struct {
	policy TokenPolicy
	key    []byte
	now    func() time.Time
}

func NewVerifier(policy TokenPolicy, key string) (*Verifier, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%s verification key is empty", policy.KeyClass)
	}
	if policy.Issuer == "" {
		return nil, errors.New("token policy requires an issuer")
	}
	switch policy.KeyClass {
	case KeyClassAccess, KeyClassRefresh, KeyClassService:
	default:
		return nil, fmt.Errorf("unknown key class %q", policy.KeyClass)
	}
	return &Verifier{policy: policy, key: []byte(key), now: time.Now}, nil
}

func (v *Verifier) Policy() TokenPolicy {
	return v.policy
}

func (v *Verifier) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	// Issuer is only inspected on a correctly signed token.
	if claims.Issuer != v.policy.Issuer {
		return Identity{}, fmt.Errorf("%w: %q", ErrUntrustedIssuer, claims.Issuer)
	}
	if claims.TokenType != v.policy.KeyClass {
		return Identity{}, fmt.Errorf("%w: token type %q", ErrInvalidToken, claims.TokenType)
	}
	if v.policy.Audience != "" && !slices.Contains([]string(claims.Audience), v.policy.Audience) {
		return Identity{}, fmt.Errorf("%w: audience %v", ErrInvalidToken, []string(claims.Audience))
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return Identity{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}

	identity := Identity{
		SubjectID: claims.Subject,
		Role:      claims.Role,
		Class:     claims.TokenType,
		Audience:  []string(claims.Audience),
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

func (v *Verifier) VerifyAccess(token AccessToken) (Identity, error) {
	if v.policy.KeyClass != KeyClassAccess {
		return Identity{}, fmt.Errorf("%w: verifier expects %s tokens", ErrInvalidToken, v.policy.KeyClass)
	}
	return v.Verify(string(token))
}

func (v *Verifier) VerifyRefresh(token RefreshToken) (Identity, error) {
	if v.policy.KeyClass != KeyClassRefresh {
		return Identity{}, fmt.Errorf("%w: verifier expects %s tokens", ErrInvalidToken, v.policy.KeyClass)
	}
	return v.Verify(string(token))
}

func (v *Verifier) VerifyService(token ServiceToken) (Identity, error) {
	if v.policy.KeyClass != KeyClassService {
		return Identity{}, fmt.Errorf("%w: verifier expects %s tokens", ErrInvalidToken, v.policy.KeyClass)
	}
	return v.Verify(string(token))
}

// DistinctKeys fails when any two key classes share a secret.
func DistinctKeys(keys map[KeyClass]string) error {
	seen := make(map[string]KeyClass, len(keys))
	for _, class := range []KeyClass{KeyClassAccess, KeyClassRefresh, KeyClassService} {
		key, ok := keys[class]
		if !ok || key == "" {
			continue
		}
		if other, dup := seen[key]; dup {
			return fmt.Errorf("%s and %s keys must be distinct", other, class)
		}
		seen[key] = class
	}
	return nil
}
