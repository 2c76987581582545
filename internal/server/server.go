// Package server hosts the local HTTP and WebSocket API behind
// `claw serve`. It binds loopback only; this is the boundary a UI or
// script calls, not a public surface.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/openclaw/claw/internal/agent/config"
	"github.com/openclaw/claw/internal/agent/runner"
	"github.com/openclaw/claw/internal/agent/session"
	"github.com/openclaw/claw/internal/agent/skills"
	"github.com/openclaw/claw/internal/agent/tools"
)

// Options tunes how the server runs.
type Options struct {
	Quiet bool // suppress startup banner and request logging
}

// Deps carries the assembled agent components the API serves.
type Deps struct {
	Config   *config.Config
	Runner   *runner.Runner
	Registry *tools.Registry
	Loader   *skills.Loader
	Sessions *session.Store

	// MCP, when set, is mounted at /mcp so MCP clients can reach the
	// same tools over HTTP.
	MCP http.Handler

	// OnRegistryChange fires after a skill toggle or custom-skill
	// change so side surfaces (the MCP export) can re-sync.
	OnRegistryChange func()
}

// Run starts the API server and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, deps *Deps, opts ...Options) error {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	port := deps.Config.Port
	if err := checkPortAvailable(port); err != nil {
		return fmt.Errorf("port %d is already in use - is another claw instance running?", port)
	}

	router := newRouter(deps, o)

	// ReadTimeout/WriteTimeout are omitted: they set deadlines on the
	// underlying conn, which breaks hijacked WebSocket connections.
	// Keepalive runs over ping/pong frames in the ws handler.
	httpServer := &http.Server{
		Addr:        fmt.Sprintf("127.0.0.1:%d", port),
		Handler:     router,
		IdleTimeout: 120 * time.Second,
	}

	if !o.Quiet {
		fmt.Printf("claw API listening on http://localhost:%d\n", port)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if !o.Quiet {
		fmt.Println("\nShutting down...")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newRouter assembles the routes. Split from Run so tests can drive
// the API through httptest.
func newRouter(deps *Deps, o Options) chi.Router {
	r := chi.NewRouter()
	if !o.Quiet {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(corsMiddleware())

	h := &handlers{deps: deps}

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/skills", h.listSkills)
		r.Post("/skills/custom", h.submitCustomSkill)
		r.Delete("/skills/custom/{id}", h.removeCustomSkill)
		r.Post("/skills/{id}/toggle", h.toggleSkill)

		r.Get("/agent-skills", h.listAgentSkills)

		r.Get("/sessions", h.listSessions)
		r.Get("/sessions/{key}/messages", h.sessionMessages)
		r.Delete("/sessions/{key}", h.deleteSession)

		r.Post("/chat", h.chat)
		r.Post("/turns/{id}/confirm", h.confirmTurn)
		r.Post("/turns/{id}/reject", h.rejectTurn)

		r.Get("/ws", h.websocket)
	})

	if deps.MCP != nil {
		r.Handle("/mcp", deps.MCP)
		r.Handle("/mcp/*", deps.MCP)
	}

	return r
}

// corsMiddleware allows only localhost origins. claw is a local app;
// non-local origins get no CORS headers, so browsers block them.
func corsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && isLocalhostOrigin(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isLocalhostOrigin reports whether an Origin header points at this
// machine.
func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// checkPortAvailable verifies the port can be bound before committing
// to startup.
func checkPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
