package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/gitdav/internal/acl"
	"github.com/sonroyaalmerol/gitdav/internal/auth"
	"github.com/sonroyaalmerol/gitdav/internal/config"
	"github.com/sonroyaalmerol/gitdav/internal/dav"
	"github.com/sonroyaalmerol/gitdav/internal/router"
	"github.com/sonroyaalmerol/gitdav/internal/storage"
	"github.com/sonroyaalmerol/gitdav/internal/storage/filestore"
	"github.com/sonroyaalmerol/gitdav/internal/storage/postgres"
	"github.com/sonroyaalmerol/gitdav/internal/storage/sqlite"
	"github.com/sonroyaalmerol/gitdav/internal/vcs"
)

type Server struct {
	http   *http.Server
	logger zerolog.Logger
}

// OpenJournal opens the configured commit journal, or returns nil when
// journaling is off.
func OpenJournal(cfg *config.Config, logger zerolog.Logger) (storage.Journal, error) {
	opts := storage.JournalOptions{Retain: cfg.Journal.Retain}
	switch cfg.Journal.Type {
	case config.JournalSQLite:
		return sqlite.Open(cfg.Journal.DSN, opts, logger)
	case config.JournalPostgres:
		return postgres.Open(cfg.Journal.DSN, opts, logger)
	case config.JournalNone, "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown journal type: %s", cfg.Journal.Type)
}

// Storage is the collection tree with its version control and journal.
type Storage struct {
	Registry *filestore.Registry
	Git      *vcs.Git
	Journal  storage.Journal
}

func (s *Storage) Close() {
	if s.Journal != nil {
		s.Journal.Close()
	}
}

func OpenStorage(cfg *config.Config, logger zerolog.Logger) (*Storage, error) {
	journal, err := OpenJournal(cfg, logger)
	if err != nil {
		return nil, err
	}
	st := &Storage{Journal: journal}

	root, err := filepath.Abs(cfg.Storage.Folder)
	if err != nil {
		st.Close()
		return nil, err
	}
	var chain vcs.Multi
	if cfg.Storage.Git {
		st.Git = vcs.NewGit(logger)
		chain = append(chain, st.Git)
	}
	if journal != nil {
		chain = append(chain, &vcs.Journaled{Journal: journal, Root: root})
	}
	reg, err := filestore.NewRegistry(root, chain, cfg.Storage.MaxCollections, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	reg.SetStockEncoding(cfg.Encoding.Stock)
	st.Registry = reg
	return st, nil
}

func NewAuth(cfg *config.Config, logger zerolog.Logger) (*auth.Chain, error) {
	var checker auth.PasswordChecker
	switch cfg.ACL.Type {
	case config.ACLNone, "":
		checker = auth.None{}
	case config.ACLHtpasswd:
		h, err := auth.NewHtpasswd(cfg.ACL.HtpasswdFile, logger)
		if err != nil {
			return nil, err
		}
		checker = h
	case config.ACLLDAP:
		l, err := auth.NewLDAP(cfg.LDAP, logger)
		if err != nil {
			return nil, err
		}
		checker = l
	default:
		return nil, fmt.Errorf("unknown acl type: %s", cfg.ACL.Type)
	}
	var bearer *auth.BearerAuth
	if cfg.Auth.EnableBearer {
		bearer = auth.NewBearerAuth(cfg.Auth, logger)
	}
	return auth.NewChain(checker, bearer, acl.Policy{Personal: cfg.ACL.Personal}, cfg.ACL.Realm, logger), nil
}

func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	st, err := OpenStorage(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	authn, err := NewAuth(cfg, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	opts := dav.Options{
		BasePath:        cfg.BasePath(),
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		RequestEncoding: cfg.Encoding.Request,
		Location:        loc,
	}
	if cfg.Storage.InitGit && st.Git != nil {
		opts.Init = st.Git
	}
	davh := dav.NewHandlers(st.Registry, opts, logger)
	mux := router.New(davh, authn, logger)

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
	logger.Info().
		Str("storage", st.Registry.Root()).
		Str("acl", cfg.ACL.Type).
		Str("journal", cfg.Journal.Type).
		Msgf("listening on %s", cfg.HTTP.Addr)
	return srv, st.Close, nil
}

func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
