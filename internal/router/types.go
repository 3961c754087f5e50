package router

import (
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/gitdav/internal/auth"
	"github.com/sonroyaalmerol/gitdav/internal/dav"
)

type Router struct {
	handlers *dav.Handlers
	auth     *auth.Chain
	logger   zerolog.Logger
}
