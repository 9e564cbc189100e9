package routes

import (
	"log/slog"
	"net/http"

	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/handlers"
	"github.com/Brownie44l1/xray-api/internal/middleware"
)

// SetupRoutes registers every endpoint and wraps the mux with logging and CORS.
// Routes that run the model are rate limited.
func SetupRoutes(h *handlers.Handler, cfg *config.Config, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	limited := func(fn http.HandlerFunc) http.Handler {
		return limiter.Limit(fn)
	}

	// Dashboard
	mux.HandleFunc("GET /{$}", h.Index)
	mux.Handle("POST /analyze", limited(h.Analyze))

	// Inference API
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("POST /predict", limited(h.Predict))
	mux.Handle("POST /predict/image", limited(h.PredictFromImage))

	// History
	mux.HandleFunc("GET /api/analyses", h.History)
	mux.HandleFunc("GET /api/analyses/{id}", h.GetAnalysis)
	mux.HandleFunc("DELETE /api/analyses/{id}", h.DeleteAnalysis)
	mux.HandleFunc("GET /api/stats", h.Stats)
	mux.HandleFunc("GET /ws/stats", h.StatsSocket)

	return middleware.Chain(mux,
		middleware.Logging(logger),
		middleware.CORS(cfg.CORSOrigin),
	)
}
