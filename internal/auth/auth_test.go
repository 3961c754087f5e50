package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sonroyaalmerol/gitdav/internal/acl"
	"github.com/sonroyaalmerol/gitdav/internal/config"
)

func basicRequest(user, pass string) *http.Request {
	r := httptest.NewRequest("PROPFIND", "/alice/work/", nil)
	r.SetBasicAuth(user, pass)
	return r
}

func writeHtpasswd(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	sum := sha1.Sum([]byte("hunter2"))
	body := "# users\n" +
		"alice:" + string(hash) + "\n" +
		"bob:{SHA}" + base64.StdEncoding.EncodeToString(sum[:]) + "\n" +
		"carol:plaintext\n"
	path := filepath.Join(t.TempDir(), "htpasswd")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNoneAcceptsAnything(t *testing.T) {
	c := NewChain(None{}, nil, acl.Policy{}, "gitdav", zerolog.Nop())

	p, err := c.Authorize(httptest.NewRequest("GET", "/", nil), "alice").Get()
	require.NoError(t, err)
	assert.Equal(t, "", p.UserID)

	p, err = c.Authorize(basicRequest("bob", "whatever"), "alice").Get()
	require.NoError(t, err)
	assert.Equal(t, "bob", p.UserID)
}

func TestHtpasswd(t *testing.T) {
	h, err := NewHtpasswd(writeHtpasswd(t), zerolog.Nop())
	require.NoError(t, err)

	tests := []struct {
		user, pass string
		ok         bool
	}{
		{"alice", "s3cret", true},
		{"alice", "wrong", false},
		{"bob", "hunter2", true},
		{"bob", "hunter3", false},
		{"carol", "plaintext", false},
		{"dave", "", false},
	}
	for _, tt := range tests {
		p, err := h.Check(context.Background(), tt.user, tt.pass)
		if tt.ok {
			require.NoError(t, err, tt.user)
			assert.Equal(t, tt.user, p.UserID)
		} else {
			assert.Error(t, err, tt.user)
		}
	}
}

func TestHtpasswdReloadsOnChange(t *testing.T) {
	path := writeHtpasswd(t)
	h, err := NewHtpasswd(path, zerolog.Nop())
	require.NoError(t, err)

	sum := sha1.Sum([]byte("pw"))
	require.NoError(t, os.WriteFile(path, []byte("erin:{SHA}"+base64.StdEncoding.EncodeToString(sum[:])+"\n"), 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	_, err = h.Check(context.Background(), "erin", "pw")
	require.NoError(t, err)
	_, err = h.Check(context.Background(), "alice", "s3cret")
	assert.Error(t, err)
}

func TestNewHtpasswdMissingFile(t *testing.T) {
	_, err := NewHtpasswd(filepath.Join(t.TempDir(), "nope"), zerolog.Nop())
	assert.Error(t, err)
}

func TestChainPolicy(t *testing.T) {
	h, err := NewHtpasswd(writeHtpasswd(t), zerolog.Nop())
	require.NoError(t, err)
	c := NewChain(h, nil, acl.Policy{Personal: true}, "gitdav", zerolog.Nop())

	p, err := c.Authorize(basicRequest("alice", "s3cret"), "alice").Get()
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)

	_, err = c.Authorize(basicRequest("alice", "s3cret"), "bob").Get()
	assert.True(t, errors.Is(err, ErrForbidden))

	_, err = c.Authorize(basicRequest("alice", "nope"), "alice").Get()
	assert.True(t, errors.Is(err, ErrUnauthenticated))

	_, err = c.Authorize(httptest.NewRequest("GET", "/alice/", nil), "alice").Get()
	assert.True(t, errors.Is(err, ErrUnauthenticated))

	r := httptest.NewRequest("GET", "/alice/", nil)
	r.Header.Set("Authorization", "Bearer abc")
	_, err = c.Authorize(r, "alice").Get()
	assert.True(t, errors.Is(err, ErrUnauthenticated))

	assert.Equal(t, `Basic realm="gitdav"`, c.Challenge())
}

func TestParseBasicMalformed(t *testing.T) {
	_, _, err := parseBasic("!!!")
	assert.Error(t, err)
	_, _, err = parseBasic(base64.StdEncoding.EncodeToString([]byte("nocolon")))
	assert.Error(t, err)
	u, p, err := parseBasic(base64.StdEncoding.EncodeToString([]byte("a:b:c")))
	require.NoError(t, err)
	assert.Equal(t, "a", u)
	assert.Equal(t, "b:c", p)
}

func TestUserFilter(t *testing.T) {
	assert.Equal(t, `(|(uid=a\2a)(mail=a\2a))`, userFilter("(|(uid=%s)(mail=%s))", "a*"))
	assert.Equal(t, "(uid=bob)", userFilter("(uid=%s)", "bob"))
	assert.Equal(t, "mailx", safeAttr("mail)(x"))
}

func TestLDAPServerName(t *testing.T) {
	host, err := ldapServerName("ldaps://ldap.example.com:636")
	require.NoError(t, err)
	assert.Equal(t, "ldap.example.com", host)

	host, err = ldapServerName("ldap://directory")
	require.NoError(t, err)
	assert.Equal(t, "directory", host)

	_, err = ldapServerName("")
	assert.Error(t, err)
	_, err = NewLDAP(config.LDAPConfig{URL: "http://example.com"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestLDAPRejectsEmptyPassword(t *testing.T) {
	l, err := NewLDAP(config.LDAPConfig{URL: "ldap://127.0.0.1:1"}, zerolog.Nop())
	require.NoError(t, err)
	_, err = l.Check(context.Background(), "alice", "")
	assert.ErrorIs(t, err, errBadCredentials)
}

type signer struct {
	key jwk.Key
	set jwk.Set
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))
	pub, err := key.PublicKey()
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	return &signer{key: key, set: set}
}

func (s *signer) token(t *testing.T, sub, iss, aud string) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Subject(sub).
		Issuer(iss).
		Audience([]string{aud}).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, s.key))
	require.NoError(t, err)
	return string(signed)
}

func TestBearer(t *testing.T) {
	s := newSigner(t)
	b := NewBearerAuth(config.AuthConfig{
		EnableBearer: true,
		JWKSURL:      "https://idp.example.com/jwks",
		Issuer:       "https://idp.example.com",
		Audience:     "gitdav",
	}, zerolog.Nop())
	fetches := 0
	b.fetch = func(context.Context, string) (jwk.Set, error) {
		fetches++
		return s.set, nil
	}

	good := s.token(t, "alice", "https://idp.example.com", "gitdav")
	p, err := b.Authenticate(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)

	_, err = b.Authenticate(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)

	_, err = b.Authenticate(context.Background(), s.token(t, "alice", "https://evil.example.com", "gitdav"))
	assert.Error(t, err)
	_, err = b.Authenticate(context.Background(), s.token(t, "alice", "https://idp.example.com", "other"))
	assert.Error(t, err)
	_, err = b.Authenticate(context.Background(), "not-a-jwt")
	assert.Error(t, err)

	c := NewChain(None{}, b, acl.Policy{Personal: true}, "gitdav", zerolog.Nop())
	r := httptest.NewRequest("GET", "/alice/", nil)
	r.Header.Set("Authorization", "Bearer "+good)
	p, err = c.Authorize(r, "alice").Get()
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)
	assert.True(t, c.BearerEnabled())
}
