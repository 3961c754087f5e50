package vcs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/gitdav/internal/storage"
)

const (
	defaultName  = "gitdav"
	defaultEmail = "gitdav@localhost"

	// commandTimeout bounds one git invocation. Callers cannot cancel it:
	// a killed commit leaves .git/index.lock behind.
	commandTimeout = time.Minute
)

// Git commits each mutation in collections that contain a .git directory.
type Git struct {
	Binary string
	Logger zerolog.Logger
}

func NewGit(logger zerolog.Logger) *Git {
	return &Git{Binary: "git", Logger: logger}
}

// Enabled reports whether dir is a git work tree root.
func Enabled(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && fi.IsDir()
}

func (g *Git) Commit(ctx context.Context, dir string, files []string, mc storage.MutationContext) error {
	if !Enabled(dir) {
		return nil
	}

	for _, f := range files {
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			rel = filepath.Base(f)
		}
		var args []string
		if mc.Action == storage.ActionRemove {
			args = []string{"rm", "--cached", "--ignore-unmatch", "--quiet", "--", rel}
		} else {
			args = []string{"add", "--", rel}
		}
		if err := g.run(ctx, dir, mc, args...); err != nil {
			return err
		}
	}

	msg := mc.Action
	if msg == "" {
		msg = "Update"
	}
	if mc.UserAgent != "" {
		msg += "\n\nUser-Agent: " + mc.UserAgent
	}
	return g.run(ctx, dir, mc, "commit", "--quiet", "--allow-empty", "-m", msg)
}

// Init turns dir into a repository.
func (g *Git) Init(ctx context.Context, dir string) error {
	return g.run(ctx, dir, storage.MutationContext{}, "init", "--quiet")
}

func (g *Git) run(ctx context.Context, dir string, mc storage.MutationContext, args ...string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, g.binary(), args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), identityEnv(mc.User)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		g.Logger.Error().
			Err(err).
			Str("dir", dir).
			Str("command", strings.Join(args, " ")).
			Str("output", strings.TrimSpace(out.String())).
			Msg("git command failed")
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && out.Len() > 0 {
			return wrap(errors.New(strings.TrimSpace(out.String())), "git %s", args[0])
		}
		return wrap(err, "git %s", args[0])
	}
	return nil
}

func (g *Git) binary() string {
	if g.Binary == "" {
		return "git"
	}
	return g.Binary
}

func identityEnv(user string) []string {
	name, email := defaultName, defaultEmail
	if user != "" {
		name = user
		if strings.Contains(user, "@") {
			email = user
		} else {
			email = user + "@gitdav"
		}
	}
	return []string{
		"GIT_AUTHOR_NAME=" + name,
		"GIT_AUTHOR_EMAIL=" + email,
		"GIT_COMMITTER_NAME=" + name,
		"GIT_COMMITTER_EMAIL=" + email,
	}
}
