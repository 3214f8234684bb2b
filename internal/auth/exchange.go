package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultServiceTTL = 2 * time.Hour

type ExchangeConfig struct {
	// TrustedIssuer is the authority id; it is also stamped as iss on service tokens.
	TrustedIssuer   string
	ServiceKey      string
	ServiceTTL      time.Duration
	Audiences       []string
	DefaultAudience string
}

// Exchange is the only path from the user trust domain into the internal one.
type Exchange struct {
	accessVerifier  *Verifier
	signer          *Signer
	audiences       map[string]struct{}
	defaultAudience string
	recorder        IssueRecorder
}

type ExchangeResult struct {
	Token     ServiceToken
	Identity  Identity
	Audience  string
	ExpiresAt time.Time
}

func NewExchange(accessVerifier *Verifier, cfg ExchangeConfig, recorder IssueRecorder) (*Exchange, error) {
	if accessVerifier == nil || accessVerifier.Policy().KeyClass != KeyClassAccess {
		return nil, errors.New("exchange requires an access token verifier")
	}
	if accessVerifier.Policy().Issuer != cfg.TrustedIssuer {
		return nil, fmt.Errorf("access verifier trusts %q, exchange trusts %q", accessVerifier.Policy().Issuer, cfg.TrustedIssuer)
	}
	if string(accessVerifier.key) == cfg.ServiceKey {
		return nil, fmt.Errorf("%s and %s keys must be distinct", KeyClassAccess, KeyClassService)
	}
	if len(cfg.Audiences) == 0 {
		return nil, errors.New("exchange requires at least one audience")
	}
	if cfg.ServiceTTL <= 0 {
		cfg.ServiceTTL = defaultServiceTTL
	}

	signer, err := NewSigner(KeyClassService, cfg.ServiceKey, cfg.TrustedIssuer, cfg.ServiceTTL)
	if err != nil {
		return nil, err
	}

	audiences := make(map[string]struct{}, len(cfg.Audiences))
	for _, aud := range cfg.Audiences {
		audiences[aud] = struct{}{}
	}
	if cfg.DefaultAudience == "" {
		cfg.DefaultAudience = cfg.Audiences[0]
	}
	if _, ok := audiences[cfg.DefaultAudience]; !ok {
		return nil, fmt.Errorf("default audience %q is not allowed", cfg.DefaultAudience)
	}

	return &Exchange{
		accessVerifier:  accessVerifier,
		signer:          signer,
		audiences:       audiences,
		defaultAudience: cfg.DefaultAudience,
		recorder:        recorder,
	}, nil
}

// Exchange verifies a user access token and mints a service token for audience.
// An empty audience selects the default one.
func (e *Exchange) Exchange(_ context.Context, token AccessToken, audience string) (ExchangeResult, error) {
	identity, err := e.accessVerifier.VerifyAccess(token)
	if err != nil {
		return ExchangeResult{}, err
	}

	if audience == "" {
		audience = e.defaultAudience
	}
	if _, ok := e.audiences[audience]; !ok {
		return ExchangeResult{}, fmt.Errorf("%w: %q", ErrInvalidAudience, audience)
	}

	signed, expiresAt, err := e.signer.sign(identity.SubjectID, identity.Role, []string{audience})
	if err != nil {
		return ExchangeResult{}, err
	}
	if e.recorder != nil {
		e.recorder.TokenIssued(string(KeyClassService))
	}

	return ExchangeResult{
		Token:     ServiceToken(signed),
		Identity:  identity,
		Audience:  audience,
		ExpiresAt: expiresAt,
	}, nil
}
