package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"

	"snipbin/cfg"
	"snipbin/svc/db"
	"snipbin/svc/store"
	"snipbin/svc/util"
)

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	db         *db.SQLite
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, pastes *store.Pastes, users *store.Users, sqlDB *db.SQLite) *Server {
	r := chi.NewRouter()
	mw := NewMw(c)
	s := &Server{
		router: r,
		cfg:    c,
		db:     sqlDB,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})

	auth := NewAuth(c, users)
	hdl := &Hdl{pastes: pastes, cfg: c, sessions: auth.sessions}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.RequestMetrics)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)

		r.Get("/auth/login", auth.Login)
		r.Get("/auth/callback", auth.Callback)
		r.Post("/auth/logout", auth.Logout)

		r.Group(func(r chi.Router) {
			r.Use(mw.JSONContentType)
			r.Post("/pastes", hdl.CreatePaste)
			r.Get("/pastes/{key}", hdl.GetPaste)
			r.Delete("/pastes/{key}", hdl.DeletePaste)
			r.Get("/my/pastes", hdl.MyPastes)
			r.Post("/my/pastes/delete", hdl.DeleteSelected)
		})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
