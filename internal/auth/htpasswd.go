package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var errBadCredentials = errors.New("invalid credentials")

// Htpasswd checks passwords against an Apache htpasswd file holding bcrypt
// or {SHA} entries. The file is re-read when its mtime changes.
type Htpasswd struct {
	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	mtime   time.Time
	entries map[string]string
}

func NewHtpasswd(path string, logger zerolog.Logger) (*Htpasswd, error) {
	h := &Htpasswd{path: path, logger: logger}
	if _, err := h.lookup("", true); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Htpasswd) Check(_ context.Context, username, password string) (*Principal, error) {
	hash, err := h.lookup(username, false)
	if err != nil {
		return nil, err
	}
	if hash == "" || !verifyHash(hash, password) {
		return nil, errBadCredentials
	}
	return &Principal{UserID: username, Display: username}, nil
}

func (h *Htpasswd) lookup(username string, force bool) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fi, err := os.Stat(h.path)
	if err != nil {
		return "", fmt.Errorf("htpasswd: %w", err)
	}
	if force || h.entries == nil || !fi.ModTime().Equal(h.mtime) {
		entries, err := readHtpasswd(h.path)
		if err != nil {
			return "", err
		}
		h.entries, h.mtime = entries, fi.ModTime()
		h.logger.Debug().Str("file", h.path).Int("users", len(entries)).Msg("htpasswd loaded")
	}
	return h.entries[username], nil
}

func readHtpasswd(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("htpasswd: %w", err)
	}
	defer f.Close()

	entries := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok || user == "" {
			continue
		}
		entries[user] = hash
	}
	return entries, sc.Err()
}

func verifyHash(hash, password string) bool {
	switch {
	case strings.HasPrefix(hash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	case strings.HasPrefix(hash, "{SHA}"):
		sum := sha1.Sum([]byte(password))
		want := base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(hash, "{SHA}")), []byte(want)) == 1
	}
	// plain text, crypt and apr1 entries are refused
	return false
}
