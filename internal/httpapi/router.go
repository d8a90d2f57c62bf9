package httpapi

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"audiorelay/internal/engine"
)

var serverStartTime = time.Now()

// NewRouter builds the control-plane router: session endpoints, search
// introspection, /health, and /metrics.
func NewRouter(api *API, manager *engine.Manager, registry *prometheus.Registry, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(corsMiddleware())

	session := r.Group("/session/:id")
	{
		session.POST("/play", api.Play)
		session.POST("/stop", api.Stop)
		session.POST("/pause", api.Pause)
		session.POST("/resume", api.Resume)
		session.GET("/status", api.Status)
	}

	r.GET("/metadata", api.Metadata)
	r.GET("/playlist", api.Playlist)
	r.GET("/search", api.Search)

	r.GET("/health", func(c *gin.Context) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		c.JSON(200, gin.H{
			"status":           "ok",
			"uptime_seconds":   int64(time.Since(serverStartTime).Seconds()),
			"ram_mb":           float64(memStats.Alloc) / 1024 / 1024,
			"goroutines":       runtime.NumGoroutine(),
			"sessions_active":  manager.ActiveCount(),
			"sessions_playing": manager.StreamingCount(),
			"go_version":       runtime.Version(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

// requestLogger emits one structured line per request, in place of the
// fmt.Printf call-site logging the control plane used to do ad hoc.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
