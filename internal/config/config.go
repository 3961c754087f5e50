package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type StorageConfig struct {
	Folder         string `yaml:"folder"`
	Git            bool   `yaml:"git"`
	InitGit        bool   `yaml:"init_git"`
	MaxCollections int    `yaml:"max_collections"`
}

type EncodingConfig struct {
	Request string `yaml:"request"`
	Stock   string `yaml:"stock"`
}

type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	BasePath     string `yaml:"base_path"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type ACLConfig struct {
	Type         string `yaml:"type"`
	Personal     bool   `yaml:"personal"`
	HtpasswdFile string `yaml:"htpasswd_file"`
	Realm        string `yaml:"realm"`
}

type AuthConfig struct {
	EnableBearer bool   `yaml:"bearer"`
	JWKSURL      string `yaml:"jwks_url"`
	Issuer       string `yaml:"issuer"`
	Audience     string `yaml:"audience"`
}

type LDAPConfig struct {
	URL                string        `yaml:"url"`
	BindDN             string        `yaml:"bind_dn"`
	BindPassword       string        `yaml:"bind_password"`
	UserBaseDN         string        `yaml:"user_base_dn"`
	UserFilter         string        `yaml:"user_filter"`
	UserAttr           string        `yaml:"user_attr"`
	Timeout            time.Duration `yaml:"timeout"`
	RequireTLS         bool          `yaml:"require_tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

type JournalConfig struct {
	Type   string `yaml:"type"`
	DSN    string `yaml:"dsn"`
	Retain int    `yaml:"retain"`
}

type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Encoding EncodingConfig `yaml:"encoding"`
	HTTP     HTTPConfig     `yaml:"http"`
	ACL      ACLConfig      `yaml:"acl"`
	Auth     AuthConfig     `yaml:"auth"`
	LDAP     LDAPConfig     `yaml:"ldap"`
	Journal  JournalConfig  `yaml:"journal"`
	Timezone string         `yaml:"timezone"`
	LogLevel string         `yaml:"log_level"`
}

const (
	ACLNone     = "none"
	ACLHtpasswd = "htpasswd"
	ACLLDAP     = "ldap"

	JournalNone     = "none"
	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getbool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

func getint(key string, def int64) int64 {
	n, err := strconv.ParseInt(getenv(key, strconv.FormatInt(def, 10)), 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getduration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(getenv(key, def.String()))
	if err != nil {
		return def
	}
	return d
}

func defaultFolder() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./calendars"
	}
	return filepath.Join(home, ".config", "gitdav", "calendars")
}

// FromEnv builds a configuration from environment variables alone.
func FromEnv() *Config {
	return &Config{
		Storage: StorageConfig{
			Folder:         getenv("STORAGE_FOLDER", defaultFolder()),
			Git:            getbool("STORAGE_GIT", true),
			InitGit:        getbool("STORAGE_INIT_GIT", false),
			MaxCollections: int(getint("STORAGE_MAX_COLLECTIONS", 0)),
		},
		Encoding: EncodingConfig{
			Request: getenv("ENCODING_REQUEST", "utf-8"),
			Stock:   getenv("ENCODING_STOCK", "utf-8"),
		},
		HTTP: HTTPConfig{
			Addr:         getenv("HTTP_ADDR", ":5233"),
			BasePath:     getenv("HTTP_BASE_PATH", "/"),
			MaxBodyBytes: getint("HTTP_MAX_BODY_BYTES", 1<<20),
		},
		ACL: ACLConfig{
			Type:         getenv("ACL_TYPE", ACLNone),
			Personal:     getbool("ACL_PERSONAL", false),
			HtpasswdFile: getenv("ACL_HTPASSWD_FILE", ""),
			Realm:        getenv("ACL_REALM", "gitdav"),
		},
		Auth: AuthConfig{
			EnableBearer: getbool("AUTH_BEARER", false),
			JWKSURL:      getenv("AUTH_JWKS_URL", ""),
			Issuer:       getenv("AUTH_ISSUER", ""),
			Audience:     getenv("AUTH_AUDIENCE", ""),
		},
		LDAP: LDAPConfig{
			URL:                getenv("LDAP_URL", "ldap://localhost:389"),
			BindDN:             getenv("LDAP_BIND_DN", ""),
			BindPassword:       getenv("LDAP_BIND_PASSWORD", ""),
			UserBaseDN:         getenv("LDAP_USER_BASE_DN", ""),
			UserFilter:         getenv("LDAP_USER_FILTER", "(|(uid=%s)(mail=%s))"),
			UserAttr:           getenv("LDAP_USER_ATTR", "uid"),
			Timeout:            getduration("LDAP_TIMEOUT", 5*time.Second),
			RequireTLS:         getbool("LDAP_REQUIRE_TLS", false),
			InsecureSkipVerify: getbool("LDAP_INSECURE_SKIP_VERIFY", false),
		},
		Journal: JournalConfig{
			Type:   getenv("JOURNAL_TYPE", JournalNone),
			DSN:    getenv("JOURNAL_DSN", ""),
			Retain: int(getint("JOURNAL_RETAIN", 0)),
		},
		Timezone: getenv("TZ", "Local"),
		LogLevel: getenv("LOG_LEVEL", "info"),
	}
}

// Load reads the environment, then overlays the YAML file at path when
// path is not empty. GITDAV_CONFIG names the file when path is empty.
func Load(path string) (*Config, error) {
	cfg := FromEnv()
	if path == "" {
		path = os.Getenv("GITDAV_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.ACL.Type {
	case ACLNone, ACLLDAP:
	case ACLHtpasswd:
		if c.ACL.HtpasswdFile == "" {
			errs = append(errs, errors.New("acl.htpasswd_file is required for htpasswd"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown acl.type %q", c.ACL.Type))
	}
	switch c.Journal.Type {
	case JournalNone:
	case JournalSQLite, JournalPostgres:
		if c.Journal.DSN == "" {
			errs = append(errs, fmt.Errorf("journal.dsn is required for %s", c.Journal.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown journal.type %q", c.Journal.Type))
	}
	if c.Journal.Retain < 0 {
		errs = append(errs, errors.New("journal.retain must not be negative"))
	}
	if c.Auth.EnableBearer && c.Auth.JWKSURL == "" {
		errs = append(errs, errors.New("auth.jwks_url is required when bearer auth is enabled"))
	}
	if c.Storage.Folder == "" {
		errs = append(errs, errors.New("storage.folder is required"))
	}
	if c.HTTP.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("http.max_body_bytes must not be negative"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves Timezone. "Local" and "" mean the process zone.
func (c *Config) Location() (*time.Location, error) {
	switch strings.TrimSpace(c.Timezone) {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// BasePath is HTTP.BasePath without its trailing slash; the root is "".
func (c *Config) BasePath() string {
	return strings.TrimRight(c.HTTP.BasePath, "/")
}
