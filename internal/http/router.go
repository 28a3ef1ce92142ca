package httpserver

import (
	"log"
	"net/http"

	"github.com/iago/link-collector-back/internal/http/handlers"
	"github.com/iago/link-collector-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", deps.API.Root)
	mux.HandleFunc("/health", deps.API.Health)
	mux.HandleFunc("/process", deps.API.Process)
	mux.HandleFunc("/status/{job_id}", deps.API.JobStatus)
	mux.HandleFunc("/status/{job_id}/watch", deps.API.WatchStatus)
	mux.HandleFunc("/", deps.API.NotFound)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken, "/", "/health")(handler)
	handler = middleware.RateLimit(middleware.RateLimitConfig{
		RPS:   deps.RateLimitRPS,
		Burst: deps.RateLimitBurst,
	})(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
