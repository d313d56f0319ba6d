package http

import (
	"log/slog"
	"os"

	"github.com/cmlabs-hris/productivity-engine/internal/handler/http/middleware"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/jwt"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"
)

type RouterConfig struct {
	AllowedOrigins []string
	Env            string
	Version        string
}

func NewRouter(
	cfg RouterConfig,
	JWTService jwt.Service,
	scoreHandler ScoreHandler,
	idleHandler IdleHandler,
	recalculationHandler RecalculationHandler,
) *chi.Mux {
	r := chi.NewRouter()
	logFormat := httplog.SchemaECS.Concise(false)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "productivity-engine"),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Env),
	)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"Link"},
		MaxAge:           300,
	}))

	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelDebug,
		Schema: httplog.SchemaECS,
	}))

	r.Use(chiMiddleware.AllowContentEncoding("application/json"))
	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/"))

	// Bearer token with a manager or admin role
	protected := func(r chi.Router) {
		r.Use(jwtauth.Verifier(JWTService.JWTAuth()))
		r.Use(middleware.AuthRequired(JWTService.JWTAuth()))
		r.Use(middleware.RequireManager)
	}

	r.Route("/api/v1", func(r chi.Router) {

		r.Group(func(r chi.Router) {
			protected(r)

			r.Route("/scores", func(r chi.Router) {
				r.Post("/compute", scoreHandler.Compute)
				r.Get("/{employeeID}/{date}", scoreHandler.Get)
			})

			r.Post("/idle/check/{employeeID}", idleHandler.Check)
		})

		r.Route("/recalculations", func(r chi.Router) {
			// SSE authenticates with a short-lived query token
			r.Get("/{id}/stream", recalculationHandler.Stream)

			r.Group(func(r chi.Router) {
				protected(r)

				r.Post("/", recalculationHandler.Start)
				r.Post("/stream-token", recalculationHandler.GetStreamToken)
				r.Get("/{id}", recalculationHandler.Get)
				r.Get("/{id}/events", recalculationHandler.Events)
				r.Post("/{id}/cancel", recalculationHandler.Cancel)
				r.Post("/{id}/resume", recalculationHandler.Resume)
			})
		})
	})
	return r
}
