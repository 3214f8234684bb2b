package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testIssuer     = "auth-service"
	testAccessKey  = "access-secret-for-tests"
	testRefreshKey = "refresh-secret-for-tests"
	testServiceKey = "service-secret-for-tests"
	testPassword   = "correct horse battery"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func newTestAuthority(t *testing.T, store CredentialStore, clock *fixedClock) *Authority {
	t.Helper()

	authority, err := NewAuthority(store, AuthorityConfig{
		Issuer:       testIssuer,
		AccessKey:    testAccessKey,
		RefreshKey:   testRefreshKey,
		PasswordCost: bcrypt.MinCost,
	}, WithClock(clock.Now))
	require.NoError(t, err)
	return authority
}

func newAccessVerifier(t *testing.T, clock *fixedClock) *Verifier {
	t.Helper()

	verifier, err := NewVerifier(TokenPolicy{Issuer: testIssuer, KeyClass: KeyClassAccess}, testAccessKey)
	require.NoError(t, err)
	verifier.now = clock.Now
	return verifier
}

func seedUser(t *testing.T, store *MemoryStore, email string, role Role) User {
	t.Helper()

	hash, err := HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	user, err := store.Create(context.Background(), NewUser{
		Username:     email[:3] + "user",
		Email:        email,
		Role:         role,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return user
}
