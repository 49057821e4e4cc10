// Package httpapi wires the chi router: the WebSocket upgrade plus
// the static asset server with SPA fallback spec.md §6 specifies for
// everything else. Generalized from the teacher's SetupRoutes (which
// only had to mount /lobbies, /healthz, /ws) by adding the catch-all
// file server this spec's browser UI needs.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rracer/server/internal/registry"
	"github.com/rracer/server/internal/ws"
)

func SetupRoutes(reg *registry.Registry, staticDir string, log *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(zapRequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(reg, log))
	r.NotFound(SPAFileServer(staticDir))

	return r
}
