package bridge

import (
	"net/http"
	"strings"

	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// AllowedOrigins is a comma separated list; empty allows every origin.
	AllowedOrigins string
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the gin engine serving h and wraps it with CORS.
func NewRouter(h *Handler, log *logger.Logger, cfg RouterConfig) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.RequestLoggingMiddleware(log))

	h.Register(router)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})
	return c.Handler(router)
}

func allowedOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
