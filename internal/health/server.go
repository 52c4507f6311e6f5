// Package health runs the per-process HTTP surface every pipeline component
// exposes alongside its main work loop: a liveness probe, a readiness probe
// that checks the component's dependencies, and the Prometheus scrape
// endpoint.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/prometheus"
)

// Checker reports the health of one dependency (the Postgres pool, a Kafka
// writer's broker connectivity, etc).
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// ComponentStatus is the per-dependency entry in a readiness response.
type ComponentStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReadinessResponse is the body returned by GET /readyz.
type ReadinessResponse struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
}

// Server hosts the health and metrics endpoints for one process.
type Server struct {
	httpServer *http.Server
	logger     logging.Logger
	startAt    time.Time
}

// NewServer builds a Server bound to addr ("host:port"), exposing /healthz
// (always 200 while the process is alive), /readyz (checks every Checker,
// 503 if any fails), and /metrics (the Prometheus collector's handler).
func NewServer(addr string, metrics prometheus.MetricsCollector, logger logging.Logger, checkers ...Checker) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{logger: logger, startAt: time.Now()}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "alive",
			"uptime": time.Since(s.startAt).Truncate(time.Second).String(),
		})
	})

	engine.GET("/readyz", func(c *gin.Context) {
		components := checkAll(c.Request.Context(), checkers)
		allHealthy := true
		for _, comp := range components {
			if comp.Status != "healthy" {
				allHealthy = false
				break
			}
		}
		resp := ReadinessResponse{Components: components}
		if allHealthy {
			resp.Status = "ready"
			c.JSON(http.StatusOK, resp)
			return
		}
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
	})

	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: engine,
	}
	return s
}

// Start launches the server in a background goroutine. Bind errors other
// than a clean Shutdown are logged, not returned, since the health surface
// is observability, not a component the pipeline depends on to function.
func (s *Server) Start() {
	go func() {
		s.logger.Info("health server listening", logging.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server error", logging.Err(err))
		}
	}()
}

// Shutdown gracefully stops the server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr formats a bind address from a base port and a per-component offset,
// so the simulator, ingest, and anomaly processes can share one configured
// base port without colliding.
func Addr(basePort, offset int) string {
	return fmt.Sprintf(":%d", basePort+offset)
}

func checkAll(ctx context.Context, checkers []Checker) map[string]ComponentStatus {
	if len(checkers) == 0 {
		return nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	results := make(map[string]ComponentStatus, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			start := time.Now()
			err := c.Check(checkCtx)
			latency := time.Since(start)

			status := ComponentStatus{Status: "healthy", Latency: latency.Truncate(time.Microsecond).String()}
			if err != nil {
				status.Status = "unhealthy"
				status.Error = err.Error()
			}

			mu.Lock()
			results[c.Name()] = status
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}
