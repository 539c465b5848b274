package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/folio/internal/page"
	"github.com/Zachkp/folio/internal/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

var templateFuncs = template.FuncMap{
	"percent": func(share float64) string { return fmt.Sprintf("%.0f%%", share*100) },
}

type server struct {
	cfg      Config
	logger   *slog.Logger
	registry *page.Registry
	store    *store.Store
	admin    *adminAuth
	limiter  *ipLimiter
	// done ends long-lived streams on shutdown.
	done <-chan struct{}
}

func newServer(ctx context.Context, cfg Config, logger *slog.Logger, reg *page.Registry, st *store.Store) *server {
	return &server{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		store:    st,
		admin:    newAdminAuth(cfg, logger),
		limiter:  newIPLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		done:     ctx.Done(),
	}
}

func (s *server) routes() *gin.Engine {
	r := gin.Default()
	r.SetHTMLTemplate(template.Must(template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")))

	static, _ := fs.Sub(staticFS, "static")
	r.StaticFS("/static", http.FS(static))

	r.Use(visitorTrackingMiddleware(s.store, s.admin, s.logger))

	r.GET("/", s.index)
	r.GET("/contact-form", func(c *gin.Context) {
		c.HTML(http.StatusOK, "contact.html", gin.H{"title": "Contact Me"})
	})
	r.POST("/contact", s.contact)

	api := r.Group("/api")
	api.Use(s.limiter.middleware())
	{
		api.POST("/sessions", s.createSession)
		api.GET("/sessions/:id", s.sessionState)
		api.DELETE("/sessions/:id", s.closeSession)
		api.POST("/sessions/:id/viewport", s.updateViewport)
		api.GET("/sessions/:id/events", s.streamEvents)

		api.GET("/sessions/:id/slots/:slot", s.slotFragment)
		api.DELETE("/sessions/:id/slots/:slot", s.unmountSlot)
		api.POST("/sessions/:id/slots/:slot/mount", s.mountSlot)
		api.POST("/sessions/:id/slots/:slot/layout", s.layoutSlot)
		api.POST("/sessions/:id/slots/:slot/loaded", s.slotLoaded)
		api.POST("/sessions/:id/slots/:slot/failed", s.slotFailed)
	}

	s.setupAdminRoutes(r)
	return r
}

func (s *server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"sections":       s.cfg.Sections,
		"aboutMeContent": AboutMe,
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, page.ErrSessionNotFound), errors.Is(err, page.ErrSlotNotFound):
		return http.StatusNotFound
	case errors.Is(err, page.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, page.ErrTooManySessions):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
