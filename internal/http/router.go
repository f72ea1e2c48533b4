package http

import (
	"net/http"

	"affiliate/internal/auth"
	"affiliate/internal/config"
	"affiliate/internal/dmqueue"
	"affiliate/internal/http/handler"
	mw "affiliate/internal/http/middleware"
	"affiliate/internal/instagram"
	"affiliate/internal/log"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps are the long-lived services the routes are built on.
type Deps struct {
	DB         *gorm.DB
	JWT        *auth.JWT
	Gate       *dmqueue.Gate
	Dispatcher *dmqueue.Dispatcher
	Config     *instagram.ConfigStore
	Gatherer   prometheus.Gatherer
	Logger     *log.Logger
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = log.Nop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.RequestLog(logger.Named("http")))
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	mappings := &instagram.Mappings{DB: d.DB}
	logs := &instagram.CommentLogs{DB: d.DB}

	wh := &handler.WebhookHandler{
		VerifyToken: cfg.Instagram.VerifyToken,
		Mappings:    mappings,
		Logs:        logs,
		Queue:       d.Gate,
		Logger:      logger.Named("webhook"),
	}
	r.Get("/webhooks/instagram", wh.Verify)
	r.Post("/webhooks/instagram", wh.Receive)

	authSvc := &auth.Service{DB: d.DB}
	ah := &handler.AuthHandler{Svc: authSvc, JWT: d.JWT, Logger: logger.Named("auth")}
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{Svc: authSvc}
	r.With(auth.RequireAuth(d.JWT)).Get("/me", me.Me)

	qh := &handler.QueueHandler{Dispatcher: d.Dispatcher, Repo: d.Dispatcher.Repo, Logger: logger.Named("queue")}
	ch := &handler.InstagramConfigHandler{Store: d.Config, Logger: logger.Named("instagram")}
	rh := &handler.ReelHandler{Mappings: mappings, Logs: logs, Logger: logger.Named("reels")}
	sh := &handler.InstagramStatsHandler{Mappings: mappings, Logs: logs, Repo: d.Dispatcher.Repo, Logger: logger.Named("stats")}

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Get("/queue/stats", qh.Stats)
		r.Post("/queue/start", qh.Start)
		r.Get("/queue/jobs", qh.Jobs)

		r.Get("/instagram/config", ch.Get)
		r.Put("/instagram/config", ch.Save)
		r.Get("/instagram/stats", sh.Stats)

		r.Get("/reels", rh.List)
		r.Post("/reels", rh.Upsert)
		r.Post("/reels/{id}/publish", rh.Publish)
		r.Post("/reels/{id}/toggle", rh.Toggle)
		r.Delete("/reels/{id}", rh.Delete)
		r.Get("/comments", rh.Comments)
	})

	return r
}
