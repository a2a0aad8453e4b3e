// Package httpapi exposes anomaly reports over HTTP for the admin dashboard.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"reward-anomaly-engine/internal/anomaly"
	"reward-anomaly-engine/internal/config"
	"reward-anomaly-engine/internal/version"
)

const defaultTimeframe = string(anomaly.Timeframe24h)

// ReportSource yields anomaly reports.
type ReportSource interface {
	Report(ctx context.Context, tag string) (*anomaly.Report, error)
}

// Pinger is a dependency probed by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the API routes.
type Handler struct {
	reports ReportSource
	checks  map[string]Pinger
	logger  zerolog.Logger
}

// NewRouter assembles the gin engine.
func NewRouter(cfg config.HTTPConfig, reports ReportSource, checks map[string]Pinger, logger zerolog.Logger) *gin.Engine {
	logger = logger.With().Str("component", "http").Logger()

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(logger))

	h := &Handler{reports: reports, checks: checks, logger: logger}

	r.GET("/healthz", h.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	admin := api.Group("/admin", AuthMiddleware(cfg.AdminTokens, cfg.ViewerTokens, logger))
	{
		admin.GET("/rewards/anomalies", h.handleAnomalies)
	}

	return r
}

// NewServer wraps handler in an http.Server with the configured timeouts.
func NewServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

func (h *Handler) handleAnomalies(c *gin.Context) {
	tag := c.DefaultQuery("timeframe", defaultTimeframe)

	report, err := h.reports.Report(c.Request.Context(), tag)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("timeframe", tag).Str("request_id", c.GetString(requestIDKey)).Msg("anomaly report failed")
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Deps    []dependency `json:"deps"`
}

func (h *Handler) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Version: version.Version, Deps: make([]dependency, 0, len(h.checks))}
	status := http.StatusOK
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		dep := dependency{Name: name, Status: "ok"}
		if err := h.checks[name].Ping(ctx); err != nil {
			dep.Status = "unavailable"
			if errors.Is(err, context.DeadlineExceeded) {
				dep.Message = "timed out"
			} else {
				dep.Message = "ping failed"
			}
			h.logger.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		resp.Deps = append(resp.Deps, dep)
	}
	c.JSON(status, resp)
}
