package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// CredentialStore holds identities. Implementations return ErrUserNotFound and
// ErrDuplicateUser rather than driver errors.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	Create(ctx context.Context, input NewUser) (User, error)
	EnsureAdmin(ctx context.Context, input NewUser) (User, error)
	SetSuspension(ctx context.Context, id string, until *time.Time, reason *string) (User, error)
	ClearLapsedSuspensions(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

type IssueRecorder interface {
	TokenIssued(class string)
}

type AuthorityConfig struct {
	Issuer       string
	AccessKey    string
	RefreshKey   string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	PasswordCost int
}

// Authority is the only holder of the access and refresh signing keys.
type Authority struct {
	store           CredentialStore
	access          *Signer
	refresh         *Signer
	refreshVerifier *Verifier
	passwordCost    int
	now             func() time.Time
	recorder        IssueRecorder
}

type AuthorityOption func(*Authority)

func WithClock(now func() time.Time) AuthorityOption {
	return func(a *Authority) {
		if now == nil {
			return
		}
		a.now = now
		a.access.now = now
		a.refresh.now = now
		a.refreshVerifier.now = now
	}
}

func WithIssueRecorder(recorder IssueRecorder) AuthorityOption {
	return func(a *Authority) {
		a.recorder = recorder
	}
}

func NewAuthority(store CredentialStore, cfg AuthorityConfig, opts ...AuthorityOption) (*Authority, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("authority issuer is required")
	}
	if err := DistinctKeys(map[KeyClass]string{KeyClassAccess: cfg.AccessKey, KeyClassRefresh: cfg.RefreshKey}); err != nil {
		return nil, err
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}

	access, err := NewSigner(KeyClassAccess, cfg.AccessKey, cfg.Issuer, cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := NewSigner(KeyClassRefresh, cfg.RefreshKey, cfg.Issuer, cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	refreshVerifier, err := NewVerifier(TokenPolicy{Issuer: cfg.Issuer, KeyClass: KeyClassRefresh}, cfg.RefreshKey)
	if err != nil {
		return nil, err
	}

	a := &Authority{
		store:           store,
		access:          access,
		refresh:         refresh,
		refreshVerifier: refreshVerifier,
		passwordCost:    cfg.PasswordCost,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

func (a *Authority) Register(ctx context.Context, input RegisterInput) (User, error) {
	username := strings.TrimSpace(strings.ToLower(input.Username))
	email := normalizeEmail(input.Email)
	if username == "" || email == "" || input.Password == "" {
		return User{}, ErrInvalidInput
	}

	hash, err := HashPassword(input.Password, a.passwordCost)
	if err != nil {
		return User{}, err
	}

	return a.store.Create(ctx, NewUser{
		Username:     username,
		Email:        email,
		Role:         RoleUser,
		PasswordHash: hash,
	})
}

// IssueTokenPair checks suspension before the password, so a suspended account
// always reports SuspendedError.
func (a *Authority) IssueTokenPair(ctx context.Context, email, password string) (TokenPair, User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, User{}, ErrUnauthenticated
	}

	user, err := a.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, User{}, ErrUnauthenticated
		}
		return TokenPair{}, User{}, err
	}

	if user.SuspendedAt(a.now()) {
		return TokenPair{}, User{}, suspendedError(user)
	}

	if !VerifyPassword(user.PasswordHash, password) {
		return TokenPair{}, User{}, ErrUnauthenticated
	}

	access, accessExp, err := a.access.sign(user.ID, user.Role, nil)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	refresh, refreshExp, err := a.refresh.sign(user.ID, user.Role, nil)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	a.issued(KeyClassAccess)
	a.issued(KeyClassRefresh)

	return TokenPair{
		AccessToken:      AccessToken(access),
		RefreshToken:     RefreshToken(refresh),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, user, nil
}

// Refresh mints a new access token. The identity is re-read so suspension and role
// changes take effect here; access tokens already issued are left to expire.
func (a *Authority) Refresh(ctx context.Context, token RefreshToken) (AccessToken, time.Time, error) {
	identity, err := a.refreshVerifier.VerifyRefresh(token)
	if err != nil {
		if errors.Is(err, ErrUntrustedIssuer) {
			return "", time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return "", time.Time{}, err
	}

	user, err := a.store.FindByID(ctx, identity.SubjectID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", time.Time{}, fmt.Errorf("%w: subject no longer exists", ErrInvalidToken)
		}
		return "", time.Time{}, err
	}
	if user.SuspendedAt(a.now()) {
		return "", time.Time{}, suspendedError(user)
	}

	access, expiresAt, err := a.access.sign(user.ID, user.Role, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	a.issued(KeyClassAccess)

	return AccessToken(access), expiresAt, nil
}

func (a *Authority) Suspend(ctx context.Context, userID string, until time.Time, reason string) (User, error) {
	if !until.After(a.now()) {
		return User{}, fmt.Errorf("%w: suspension must end in the future", ErrInvalidInput)
	}
	until = until.UTC()

	var reasonPtr *string
	if reason = strings.TrimSpace(reason); reason != "" {
		reasonPtr = &reason
	}
	return a.store.SetSuspension(ctx, userID, &until, reasonPtr)
}

func (a *Authority) Unsuspend(ctx context.Context, userID string) (User, error) {
	return a.store.SetSuspension(ctx, userID, nil, nil)
}

func (a *Authority) ClearLapsedSuspensions(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	return a.store.ClearLapsedSuspensions(ctx, a.now().UTC(), batchSize)
}

func (a *Authority) BootstrapAdmin(ctx context.Context, username, email, password string) error {
	username = strings.TrimSpace(strings.ToLower(username))
	email = normalizeEmail(email)
	password = strings.TrimSpace(password)

	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if username == "" {
		username = "admin"
	}

	hash, err := HashPassword(password, a.passwordCost)
	if err != nil {
		return err
	}

	_, err = a.store.EnsureAdmin(ctx, NewUser{
		Username:     username,
		Email:        email,
		Role:         RoleAdmin,
		PasswordHash: hash,
	})
	return err
}

func (a *Authority) AccessTTL() time.Duration {
	return a.access.TTL()
}

func (a *Authority) RefreshTTL() time.Duration {
	return a.refresh.TTL()
}

func (a *Authority) issued(class KeyClass) {
	if a.recorder != nil {
		a.recorder.TokenIssued(string(class))
	}
}

func suspendedError(user User) *SuspendedError {
	err := &SuspendedError{Until: *user.SuspendedUntil}
	if user.SuspensionReason != nil {
		err.Reason = *user.SuspensionReason
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
