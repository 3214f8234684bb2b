package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierAcceptsOwnClass(t *testing.T) {
	clock := newClock()
	signer, err := NewSigner(KeyClassAccess, testAccessKey, testIssuer, 15*time.Minute)
	require.NoError(t, err)
	signer.now = clock.Now

	raw, expiresAt, err := signer.sign("user-1", RoleAdmin, nil)
	require.NoError(t, err)

	identity, err := newAccessVerifier(t, clock).VerifyAccess(AccessToken(raw))
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.SubjectID)
	assert.Equal(t, RoleAdmin, identity.Role)
	assert.Equal(t, KeyClassAccess, identity.Class)
	assert.True(t, identity.ExpiresAt.Equal(expiresAt))
}

func TestVerifierRejectsOtherKeyClasses(t *testing.T) {
	clock := newClock()
	verifier := newAccessVerifier(t, clock)

	refresh, err := NewSigner(KeyClassRefresh, testRefreshKey, testIssuer, time.Hour)
	require.NoError(t, err)
	refresh.now = clock.Now
	raw, _, err := refresh.sign("user-1", RoleUser, nil)
	require.NoError(t, err)

	_, err = verifier.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierRejectsTypeClaimMismatchUnderSameKey(t *testing.T) {
	clock := newClock()
	verifier := newAccessVerifier(t, clock)

	// Same secret, wrong class: the token_type claim alone must reject it.
	signer, err := NewSigner(KeyClassService, testAccessKey, testIssuer, time.Hour)
	require.NoError(t, err)
	signer.now = clock.Now
	raw, _, err := signer.sign("user-1", RoleUser, []string{"negotiation-service"})
	require.NoError(t, err)

	_, err = verifier.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierUntrustedIssuer(t *testing.T) {
	clock := newClock()
	signer, err := NewSigner(KeyClassAccess, testAccessKey, "rogue-service", time.Hour)
	require.NoError(t, err)
	signer.now = clock.Now
	raw, _, err := signer.sign("user-1", RoleUser, nil)
	require.NoError(t, err)

	_, err = newAccessVerifier(t, clock).Verify(raw)
	assert.ErrorIs(t, err, ErrUntrustedIssuer)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierExpiry(t *testing.T) {
	clock := newClock()
	signer, err := NewSigner(KeyClassAccess, testAccessKey, testIssuer, 15*time.Minute)
	require.NoError(t, err)
	signer.now = clock.Now
	raw, _, err := signer.sign("user-1", RoleUser, nil)
	require.NoError(t, err)

	verifier := newAccessVerifier(t, clock)
	clock.Advance(16 * time.Minute)

	_, err = verifier.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierRequiresAudience(t *testing.T) {
	clock := newClock()
	signer, err := NewSigner(KeyClassService, testServiceKey, testIssuer, time.Hour)
	require.NoError(t, err)
	signer.now = clock.Now
	raw, _, err := signer.sign("user-1", RoleUser, []string{"catalog-service"})
	require.NoError(t, err)

	verifier, err := NewVerifier(TokenPolicy{Issuer: testIssuer, KeyClass: KeyClassService, Audience: "negotiation-service"}, testServiceKey)
	require.NoError(t, err)
	verifier.now = clock.Now

	_, err = verifier.VerifyService(ServiceToken(raw))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierRejectsNoneAlgorithm(t *testing.T) {
	clock := newClock()
	claims := Claims{
		Role:      RoleAdmin,
		TokenType: KeyClassAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newAccessVerifier(t, clock).Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTypedVerifyGuardsClass(t *testing.T) {
	verifier := newAccessVerifier(t, newClock())

	_, err := verifier.VerifyService(ServiceToken("anything"))
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = verifier.VerifyRefresh(RefreshToken("anything"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDistinctKeys(t *testing.T) {
	assert.NoError(t, DistinctKeys(map[KeyClass]string{
		KeyClassAccess:  "a",
		KeyClassRefresh: "b",
		KeyClassService: "c",
	}))
	assert.Error(t, DistinctKeys(map[KeyClass]string{
		KeyClassAccess:  "a",
		KeyClassService: "a",
	}))
}
