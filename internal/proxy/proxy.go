// Package proxy forwards incoming HTTP requests to pooled worker
// processes. Each request asks the pool manager for a ready worker and
// relays to its loopback port; pool errors map onto gateway status
// codes.
package proxy

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/hostbridge/hostbridge/internal/config"
	"github.com/hostbridge/hostbridge/internal/logging"
	"github.com/hostbridge/hostbridge/internal/metrics"
	"github.com/hostbridge/hostbridge/internal/pool"
)

// Handler relays requests for one application to its worker pool.
// The descriptor can be swapped at runtime after a config reload.
type Handler struct {
	manager *pool.Manager
	cfg     atomic.Pointer[config.AppConfig]
	logger  *slog.Logger
}

// NewHandler creates a forwarding handler backed by the given pool.
func NewHandler(manager *pool.Manager, cfg *config.AppConfig) *Handler {
	h := &Handler{
		manager: manager,
		logger:  logging.GetLogger("proxy"),
	}
	h.cfg.Store(cfg)
	return h
}

// UpdateConfig swaps the application descriptor. In-flight requests
// keep the descriptor they started with.
func (h *Handler) UpdateConfig(cfg *config.AppConfig) {
	h.cfg.Store(cfg)
}

// ServeHTTP picks a ready worker and relays the request to it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg.Load()
	worker, err := h.manager.GetProcess(r.Context(), cfg)
	if err != nil {
		h.writeUnavailable(w, r, cfg, err)
		return
	}

	target := &url.URL{
		Scheme: "http",
		Host:   "127.0.0.1:" + strconv.Itoa(worker.Port()),
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
			rewritePath(pr, cfg.VirtualPath)
			if !cfg.ForwardAuthHeaders {
				pr.Out.Header.Del("Authorization")
				pr.Out.Header.Del("Cookie")
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Error("Worker request failed",
				"app", cfg.Name, "port", worker.Port(), "path", r.URL.Path, "error", err)
			metrics.IncDispatch(cfg.Name, "relay_error")
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		},
	}
	rp.ServeHTTP(w, r)
}

// rewritePath strips the application's virtual path prefix so workers
// see application-relative URLs.
func rewritePath(pr *httputil.ProxyRequest, vp string) {
	if vp == "" || vp == "/" {
		return
	}
	if rest, ok := strings.CutPrefix(pr.Out.URL.Path, vp); ok {
		if rest == "" || rest[0] != '/' {
			rest = "/" + rest
		}
		pr.Out.URL.Path = rest
	}
}

// writeUnavailable maps pool errors to gateway responses. A disabled or
// exiting application is 503 with Retry-After; a failed start is 502.
func (h *Handler) writeUnavailable(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig, err error) {
	switch {
	case errors.Is(err, pool.ErrServerDisabled):
		h.logger.Warn("Refusing request, application disabled by rapid-fail protection",
			"app", cfg.Name, "path", r.URL.Path)
		w.Header().Set("Retry-After", "60")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, pool.ErrApplicationExiting):
		w.Header().Set("Retry-After", "5")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, pool.ErrCreateFailed):
		h.logger.Error("Failed to start worker for request",
			"app", cfg.Name, "path", r.URL.Path, "error", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	default:
		h.logger.Error("Unexpected pool error", "app", cfg.Name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
