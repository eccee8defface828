// Package webserver maps HTTP requests onto SQL files and streams the
// rendered pages back. The response head goes out as soon as the first body
// byte is known; the rest of the page is flushed row by row while the
// database is still producing results.
package webserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	billy "github.com/go-git/go-billy/v5"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/veneer/internal/config"
	"github.com/agentic-research/veneer/internal/database"
	"github.com/agentic-research/veneer/internal/filecache"
	"github.com/agentic-research/veneer/internal/sqlparse"
	"github.com/agentic-research/veneer/internal/template"
	"github.com/agentic-research/veneer/internal/templates"
)

// Version is reported in the Server response header.
const Version = "0.1.0"

// Scripts may only come from the page itself and the CDN the documentation
// points at for chart and map libraries.
const contentSecurityPolicy = "script-src 'self' https://cdn.jsdelivr.net"

const shutdownGrace = 10 * time.Second

// Options are the collaborators the command line assembles for a server.
type Options struct {
	Config *config.Config
	DB     *database.Database
	// WebRoot holds the site: SQL files and static assets.
	WebRoot billy.Filesystem
	// Templates holds the site's component overrides; builtin components
	// are embedded and always available.
	Templates billy.Filesystem
	// Logger may be nil, in which case the process default is used.
	Logger *slog.Logger
}

// Server renders SQL files into streamed HTML pages.
type Server struct {
	db       *database.Database
	store    *templates.Store
	webFS    billy.Filesystem
	sqlCache *filecache.Cache[*sqlparse.File]
	logger   *slog.Logger
	listenOn string
	engine   *gin.Engine
}

func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store, err := templates.New(opts.Templates, template.DefaultRegistry())
	if err != nil {
		return nil, fmt.Errorf("loading the builtin components: %w", err)
	}

	s := &Server{
		db:       opts.DB,
		store:    store,
		webFS:    opts.WebRoot,
		logger:   logger,
		listenOn: opts.Config.ListenOn,
	}
	dialect := opts.DB.Dialect().Placeholder
	s.sqlCache = filecache.New(opts.WebRoot, func(_ context.Context, p, source string) (*sqlparse.File, error) {
		return sqlparse.Parse(p, source, dialect), nil
	})

	if opts.Config.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), s.logRequests, s.serverHeader)
	engine.NoRoute(s.handle)
	s.engine = engine
	return s, nil
}

// ServeHTTP makes the server mountable under httptest and other routers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Serve listens on the configured address until ctx is cancelled, then
// drains in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.listenOn, Handler: s.engine}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http: listening", "address", s.listenOn)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// logRequests writes one line per finished request.
func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.InfoContext(c.Request.Context(), "http: request served",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}

func (s *Server) serverHeader(c *gin.Context) {
	c.Header("Server", "veneer/"+Version)
	c.Next()
}

// securityHeaders applies the script policy to HTML responses.
func securityHeaders(h http.Header) {
	if strings.HasPrefix(h.Get("Content-Type"), "text/html") {
		h.Set("Content-Security-Policy", contentSecurityPolicy)
	}
}
