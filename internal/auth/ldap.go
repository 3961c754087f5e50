package auth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/gitdav/internal/config"
)

// LDAP checks passwords by locating the user with the service account and
// binding as the found DN.
type LDAP struct {
	cfg    config.LDAPConfig
	logger zerolog.Logger
}

func NewLDAP(cfg config.LDAPConfig, logger zerolog.Logger) (*LDAP, error) {
	if _, err := ldapServerName(cfg.URL); err != nil {
		return nil, err
	}
	return &LDAP{cfg: cfg, logger: logger}, nil
}

func (l *LDAP) Check(ctx context.Context, username, password string) (*Principal, error) {
	if username == "" || password == "" {
		// an empty password would be an unauthenticated bind
		return nil, errBadCredentials
	}
	conn, err := dialLDAPAuto(l.cfg)
	if err != nil {
		l.logger.Error().Err(err).Str("url", l.cfg.URL).Msg("failed to dial LDAP")
		return nil, err
	}
	defer conn.Close()
	if l.cfg.BindDN != "" {
		if err := conn.Bind(l.cfg.BindDN, l.cfg.BindPassword); err != nil {
			l.logger.Error().Err(err).Str("bind_dn", l.cfg.BindDN).Msg("service bind failed")
			return nil, err
		}
	}

	searchReq := ldap.NewSearchRequest(
		l.cfg.UserBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, int(l.cfg.Timeout.Seconds()), false,
		userFilter(l.cfg.UserFilter, username),
		userAttrList(l.cfg),
		nil,
	)
	res, err := conn.Search(searchReq)
	if err != nil {
		l.logger.Error().Err(err).
			Str("user_base_dn", l.cfg.UserBaseDN).
			Str("username", username).
			Msg("LDAP user search failed")
		return nil, errBadCredentials
	}
	if len(res.Entries) == 0 {
		l.logger.Debug().Str("username", username).Msg("user not found in LDAP")
		return nil, errBadCredentials
	}
	entry := res.Entries[0]

	userConn, err := dialLDAPAuto(l.cfg)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to dial LDAP for user bind")
		return nil, err
	}
	defer userConn.Close()
	if err := userConn.Bind(entry.DN, password); err != nil {
		l.logger.Debug().Err(err).Str("user_dn", entry.DN).Msg("user bind failed")
		return nil, errBadCredentials
	}

	return &Principal{
		UserID:  firstNonEmpty(entry.GetAttributeValue(safeAttr(l.cfg.UserAttr)), username),
		UserDN:  entry.DN,
		Display: firstNonEmpty(entry.GetAttributeValue("displayName"), entry.GetAttributeValue("cn")),
	}, nil
}

// userFilter fills every %s of the configured filter with the escaped name.
func userFilter(filter, username string) string {
	n := strings.Count(filter, "%s")
	args := make([]any, n)
	for i := range args {
		args[i] = ldap.EscapeFilter(username)
	}
	return fmt.Sprintf(filter, args...)
}

func userAttrList(cfg config.LDAPConfig) []string {
	attrs := []string{"dn", "displayName", "cn", "uid"}
	if a := safeAttr(cfg.UserAttr); a != "" && a != "uid" {
		attrs = append(attrs, a)
	}
	return attrs
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func safeAttr(a string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return -1
	}, a)
}

// ldapServerName validates url and returns the host used for TLS
// verification.
func ldapServerName(url string) (string, error) {
	u := strings.TrimSpace(url)
	if u == "" {
		return "", errors.New("LDAP URL is empty")
	}
	lower := strings.ToLower(u)
	var hostPort string
	switch {
	case strings.HasPrefix(lower, "ldaps://"):
		hostPort = u[len("ldaps://"):]
	case strings.HasPrefix(lower, "ldap://"):
		hostPort = u[len("ldap://"):]
	default:
		return "", errors.New("URL must start with ldap:// or ldaps://")
	}
	hostPort, _, _ = strings.Cut(hostPort, "/")
	if host, _, err := net.SplitHostPort(hostPort); err == nil && host != "" {
		return host, nil
	}
	return hostPort, nil
}

func dialLDAPAuto(cfg config.LDAPConfig) (*ldap.Conn, error) {
	serverName, err := ldapServerName(cfg.URL)
	if err != nil {
		return nil, err
	}
	u := strings.TrimSpace(cfg.URL)
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ServerName:         serverName,
	}

	if strings.HasPrefix(strings.ToLower(u), "ldaps://") {
		return ldap.DialURL(u, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(u)
	if err != nil {
		return nil, err
	}
	if cfg.RequireTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}
	if cfg.Timeout > 0 {
		conn.SetTimeout(cfg.Timeout)
	}
	return conn, nil
}
