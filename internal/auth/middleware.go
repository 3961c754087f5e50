package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/sonroyaalmerol/gitdav/internal/acl"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
)

type Principal struct {
	UserID  string // login name, also the owner segment of a user's collections
	UserDN  string
	Display string
}

type ctxKey int

const principalKey ctxKey = 1

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// PasswordChecker verifies a user name and password pair.
type PasswordChecker interface {
	Check(ctx context.Context, username, password string) (*Principal, error)
}

// Chain authenticates a request with the configured password backend or,
// when enabled, a bearer token, then applies the collection policy.
type Chain struct {
	basic  PasswordChecker
	bearer *BearerAuth
	policy acl.Policy
	realm  string
	logger zerolog.Logger
}

func NewChain(basic PasswordChecker, bearer *BearerAuth, policy acl.Policy, realm string, logger zerolog.Logger) *Chain {
	if basic == nil {
		basic = None{}
	}
	return &Chain{basic: basic, bearer: bearer, policy: policy, realm: realm, logger: logger}
}

func (c *Chain) BearerEnabled() bool { return c.bearer != nil }

// Challenge is the WWW-Authenticate value sent with a 401.
func (c *Chain) Challenge() string {
	return fmt.Sprintf("Basic realm=%q", c.realm)
}

// Authorize authenticates r and checks that the principal may act on
// collections of owner. Failures are ErrUnauthenticated or ErrForbidden.
func (c *Chain) Authorize(r *http.Request, owner string) mo.Result[*Principal] {
	p, err := c.authenticate(r)
	if err != nil {
		return mo.Err[*Principal](fmt.Errorf("%w: %v", ErrUnauthenticated, err))
	}
	if !c.policy.HasRight(owner, p.UserID) {
		if p.UserID == "" {
			return mo.Err[*Principal](fmt.Errorf("%w: anonymous access to %q", ErrUnauthenticated, owner))
		}
		return mo.Err[*Principal](fmt.Errorf("%w: %s on %q", ErrForbidden, p.UserID, owner))
	}
	return mo.Ok(p)
}

func (c *Chain) authenticate(r *http.Request) (*Principal, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		if _, open := c.basic.(None); open {
			return &Principal{}, nil
		}
		return nil, errors.New("no credentials")
	}
	scheme, value, _ := strings.Cut(header, " ")
	switch {
	case strings.EqualFold(scheme, "basic"):
		username, password, err := parseBasic(value)
		if err != nil {
			return nil, err
		}
		return c.basic.Check(r.Context(), username, password)
	case strings.EqualFold(scheme, "bearer"):
		if c.bearer == nil {
			return nil, errors.New("bearer disabled")
		}
		return c.bearer.Authenticate(r.Context(), strings.TrimSpace(value))
	}
	return nil, fmt.Errorf("unsupported scheme %q", scheme)
}
