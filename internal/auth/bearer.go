package auth

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/gitdav/internal/cache"
	"github.com/sonroyaalmerol/gitdav/internal/config"
)

const verifiedTTL = 2 * time.Minute

// BearerAuth validates JWTs against a JWKS endpoint. The token subject is
// the user name.
type BearerAuth struct {
	cfg    config.AuthConfig
	logger zerolog.Logger

	mu     sync.Mutex
	keyset jwk.Set
	ksAt   time.Time
	ksTTL  time.Duration
	fetch  func(ctx context.Context, url string) (jwk.Set, error)

	verCache *cache.Cache[string, *Principal]
}

func NewBearerAuth(cfg config.AuthConfig, logger zerolog.Logger) *BearerAuth {
	return &BearerAuth{
		cfg:    cfg,
		logger: logger,
		ksTTL:  10 * time.Minute,
		fetch: func(ctx context.Context, url string) (jwk.Set, error) {
			return jwk.Fetch(ctx, url)
		},
		verCache: cache.New[string, *Principal](verifiedTTL),
	}
}

func (b *BearerAuth) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}
	if p, ok := b.verCache.Get(token); ok && p != nil {
		return p, nil
	}
	if b.cfg.JWKSURL == "" {
		return nil, errors.New("no jwt validation configured")
	}

	set, err := b.keys(ctx)
	if err != nil {
		b.logger.Error().Err(err).Str("jwks_url", b.cfg.JWKSURL).Msg("failed to fetch JWKS")
		return nil, err
	}
	tok, err := jwt.Parse([]byte(token), jwt.WithKeySet(set), jwt.WithValidate(true))
	if err != nil {
		return nil, err
	}
	if iss := tok.Issuer(); b.cfg.Issuer != "" && iss != b.cfg.Issuer {
		return nil, errors.New("issuer mismatch")
	}
	if b.cfg.Audience != "" && !slices.Contains(tok.Audience(), b.cfg.Audience) {
		return nil, errors.New("audience mismatch")
	}
	sub := tok.Subject()
	if sub == "" {
		return nil, errors.New("no sub")
	}

	p := &Principal{UserID: sub, Display: sub}
	if name, ok := tok.Get("name"); ok {
		if s, ok := name.(string); ok && s != "" {
			p.Display = s
		}
	}
	exp := time.Now().Add(verifiedTTL)
	if e := tok.Expiration(); !e.IsZero() && e.Before(exp) {
		exp = e
	}
	b.verCache.Set(token, p, exp)
	return p, nil
}

func (b *BearerAuth) keys(ctx context.Context) (jwk.Set, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keyset != nil && time.Since(b.ksAt) <= b.ksTTL {
		return b.keyset, nil
	}
	set, err := b.fetch(ctx, b.cfg.JWKSURL)
	if err != nil {
		return nil, err
	}
	b.keyset, b.ksAt = set, time.Now()
	return set, nil
}
