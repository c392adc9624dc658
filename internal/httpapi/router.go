package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/noctua-labs/jobqueue/internal/broker"
	mw "github.com/noctua-labs/jobqueue/internal/httpapi/middleware"
	"github.com/noctua-labs/jobqueue/internal/job"
)

// RouterConfig carries the dependencies and tuning needed to build the
// producer-facing router.
type RouterConfig struct {
	Store         job.Store
	Broker        *broker.Broker
	RedisClient   *redis.Client
	MaxBodyBytes  int64
	RateLimitMax  int
	RateLimitWindowSeconds int
}

// NewRouter builds the chi router for the HTTP intake surface.
func NewRouter(cfg RouterConfig) http.Handler {
	api := &API{Store: cfg.Store, Broker: cfg.Broker}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(mw.MaxBodyBytes(cfg.MaxBodyBytes))
	r.Use(mw.RateLimit(cfg.RedisClient, mw.RateLimitConfig{
		MaxRequests:   cfg.RateLimitMax,
		WindowSeconds: cfg.RateLimitWindowSeconds,
	}))

	r.Get("/health", api.Health)
	r.Get("/metrics", api.Metrics)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", api.CreateJob)
		r.Get("/", api.ListJobs)
		r.Get("/dead-letter", api.ListDeadLetterJobs)
		r.Post("/dead-letter/{id}/retry", api.RetryDeadLetterJob)
		r.Post("/dead-letter/{id}/discard", api.DiscardDeadLetterJob)
		r.Get("/{id}", api.GetJob)
	})

	return r
}
