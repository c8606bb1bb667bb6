package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the eligibility, issuer-status and retention engine over
// HTTP.
type Server struct {
	router  *chi.Mux
	handler *Handler
	http    *http.Server
}

// NewServer wires the handlers onto a chi router.
func NewServer(cfg Config, deps Deps) *Server {
	h := NewHandler(deps, cfg.VerdictTTL)
	router := routes(h, cfg.Server.AllowedOrigins)

	return &Server{
		router:  router,
		handler: h,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

func routes(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CORSMiddleware(allowedOrigins))
	r.Use(RecoverMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	// Probes and the catalog are shared by every user.
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Route("/catalog", func(r chi.Router) {
		r.Get("/", h.GetCatalog)
		r.Put("/", h.PutCatalog)
	})

	r.Group(func(r chi.Router) {
		r.Use(UserMiddleware)

		r.Route("/cards", func(r chi.Router) {
			r.Post("/", h.SaveCard)
			r.Get("/", h.ListCards)
			r.Get("/{id}", h.GetCard)
			r.Delete("/{id}", h.DeleteCard)
			r.Post("/{id}/usage", h.RecordUsage)
		})

		r.Post("/eligibility", h.Eligibility)
		r.Get("/evaluations/{id}", h.GetEvaluation)
		r.Get("/issuers/status", h.IssuerStatus)
		r.Get("/velocity", h.Velocity)
		r.Post("/retention", h.Retention)
	})

	return r
}

// Addr is the host:port the server listens on.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Start blocks serving HTTP until Shutdown; it then returns
// http.ErrServerClosed.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router returns the chi router, for serving requests in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the request handlers.
func (s *Server) Handler() *Handler {
	return s.handler
}
