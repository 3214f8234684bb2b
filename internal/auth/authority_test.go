package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	issued map[string]int
}

func (r *countingRecorder) TokenIssued(class string) {
	if r.issued == nil {
		r.issued = make(map[string]int)
	}
	r.issued[class]++
}

func TestIssueTokenPair(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewMemoryStore()
	user := seedUser(t, store, "ana@example.com", RoleUser)
	recorder := &countingRecorder{}

	authority, err := NewAuthority(store, AuthorityConfig{
		Issuer:       testIssuer,
		AccessKey:    testAccessKey,
		RefreshKey:   testRefreshKey,
		PasswordCost: 4,
	}, WithClock(clock.Now), WithIssueRecorder(recorder))
	require.NoError(t, err)

	pair, got, err := authority.IssueTokenPair(ctx, "  ANA@example.com ", testPassword)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, clock.Now().Add(15*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, clock.Now().Add(7*24*time.Hour), pair.RefreshExpiresAt)
	assert.Equal(t, 1, recorder.issued["access"])
	assert.Equal(t, 1, recorder.issued["refresh"])

	identity, err := newAccessVerifier(t, clock).VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.SubjectID)
	assert.Equal(t, RoleUser, identity.Role)

	// The refresh token is not an access token.
	_, err = newAccessVerifier(t, clock).Verify(string(pair.RefreshToken))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueTokenPairUnauthenticated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedUser(t, store, "ana@example.com", RoleUser)
	authority := newTestAuthority(t, store, newClock())

	_, _, err := authority.IssueTokenPair(ctx, "ana@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, _, err = authority.IssueTokenPair(ctx, "nobody@example.com", testPassword)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, _, err = authority.IssueTokenPair(ctx, "", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestIssueTokenPairSuspendedIffWindowCoversNow(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	now := clock.Now()

	cases := []struct {
		name      string
		until     time.Time
		password  string
		suspended bool
	}{
		{name: "future window correct password", until: now.Add(time.Hour), password: testPassword, suspended: true},
		{name: "future window wrong password", until: now.Add(time.Hour), password: "wrong password", suspended: true},
		{name: "window ends now", until: now, password: testPassword, suspended: false},
		{name: "lapsed window", until: now.Add(-time.Minute), password: testPassword, suspended: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemoryStore()
			user := seedUser(t, store, "ana@example.com", RoleUser)
			reason := "spam listings"
			until := tc.until
			_, err := store.SetSuspension(ctx, user.ID, &until, &reason)
			require.NoError(t, err)

			authority := newTestAuthority(t, store, clock)
			_, _, err = authority.IssueTokenPair(ctx, "ana@example.com", tc.password)

			var suspended *SuspendedError
			if tc.suspended {
				require.ErrorAs(t, err, &suspended)
				assert.True(t, suspended.Until.Equal(tc.until))
				assert.Equal(t, reason, suspended.Reason)
				return
			}
			assert.NotErrorAs(t, err, &suspended)
			assert.NoError(t, err)
		})
	}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewMemoryStore()
	user := seedUser(t, store, "ana@example.com", RoleUser)
	authority := newTestAuthority(t, store, clock)

	pair, _, err := authority.IssueTokenPair(ctx, "ana@example.com", testPassword)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	access, expiresAt, err := authority.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(15*time.Minute), expiresAt)

	identity, err := newAccessVerifier(t, clock).VerifyAccess(access)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.SubjectID)
}

func TestRefreshRejectsAccessTokenAndExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewMemoryStore()
	seedUser(t, store, "ana@example.com", RoleUser)
	authority := newTestAuthority(t, store, clock)

	pair, _, err := authority.IssueTokenPair(ctx, "ana@example.com", testPassword)
	require.NoError(t, err)

	_, _, err = authority.Refresh(ctx, RefreshToken(pair.AccessToken))
	assert.ErrorIs(t, err, ErrInvalidToken)

	clock.Advance(8 * 24 * time.Hour)
	_, _, err = authority.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshRechecksSuspensionAndRole(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewMemoryStore()
	user := seedUser(t, store, "ana@example.com", RoleUser)
	authority := newTestAuthority(t, store, clock)

	pair, _, err := authority.IssueTokenPair(ctx, "ana@example.com", testPassword)
	require.NoError(t, err)

	_, err = authority.Suspend(ctx, user.ID, clock.Now().Add(time.Hour), "chargeback")
	require.NoError(t, err)

	_, _, err = authority.Refresh(ctx, pair.RefreshToken)
	var suspended *SuspendedError
	require.ErrorAs(t, err, &suspended)
	assert.Equal(t, "chargeback", suspended.Reason)

	// The access token issued before the suspension stays valid until it expires.
	_, err = newAccessVerifier(t, clock).VerifyAccess(pair.AccessToken)
	assert.NoError(t, err)

	_, err = authority.Unsuspend(ctx, user.ID)
	require.NoError(t, err)
	_, err = store.EnsureAdmin(ctx, NewUser{Email: "ana@example.com", PasswordHash: user.PasswordHash})
	require.NoError(t, err)

	access, _, err := authority.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	identity, err := newAccessVerifier(t, clock).VerifyAccess(access)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, identity.Role)
}

func TestSuspendRequiresFutureEnd(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewMemoryStore()
	user := seedUser(t, store, "ana@example.com", RoleUser)
	authority := newTestAuthority(t, store, clock)

	_, err := authority.Suspend(ctx, user.ID, clock.Now().Add(-time.Second), "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = authority.Suspend(ctx, "missing", clock.Now().Add(time.Hour), "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestClearLapsedSuspensions(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewMemoryStore()
	user := seedUser(t, store, "ana@example.com", RoleUser)
	authority := newTestAuthority(t, store, clock)

	_, err := authority.Suspend(ctx, user.ID, clock.Now().Add(time.Minute), "cooldown")
	require.NoError(t, err)

	cleared, err := authority.ClearLapsedSuspensions(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, cleared)

	clock.Advance(2 * time.Minute)
	cleared, err = authority.ClearLapsedSuspensions(ctx, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleared)

	got, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SuspendedUntil)
	assert.Nil(t, got.SuspensionReason)
}

func TestBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	authority := newTestAuthority(t, store, newClock())

	require.NoError(t, authority.BootstrapAdmin(ctx, "", "", ""))
	assert.Error(t, authority.BootstrapAdmin(ctx, "root", "root@example.com", ""))

	require.NoError(t, authority.BootstrapAdmin(ctx, "root", "root@example.com", testPassword))
	_, user, err := authority.IssueTokenPair(ctx, "root@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, user.Role)
}

func TestNewAuthorityRejectsSharedKeys(t *testing.T) {
	_, err := NewAuthority(NewMemoryStore(), AuthorityConfig{
		Issuer:     testIssuer,
		AccessKey:  "same",
		RefreshKey: "same",
	})
	assert.Error(t, err)
}
