package main

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	cm        *ConfigManager
	haikoo    *Haikoo
	logger    *slog.Logger
	authAPI   *AuthAPI
	haikuAPI  *HaikuAPI
	markovAPI *MarkovAPI
	statsAPI  *StatsAPI
	serverAPI *ServerAPI
	apiMux    *http.ServeMux
}

// NewServer wires every API onto one mux. reg is served on /metrics; a nil
// reg serves the default Prometheus registry.
func NewServer(cm *ConfigManager, h *Haikoo, logger *slog.Logger, reg *prometheus.Registry, actionChan chan string) *Server {
	reload := h.Generator().Reload

	server := &Server{
		cm:        cm,
		haikoo:    h,
		logger:    logger,
		authAPI:   NewAuthAPI(h.db, logger),
		haikuAPI:  NewHaikuAPI(h, cm, logger),
		markovAPI: NewMarkovAPI(h.store, reload, logger),
		statsAPI:  NewStatsAPI(h.store, logger),
		serverAPI: NewServerAPI(cm, h.db, reload, actionChan, logger),
		apiMux:    http.NewServeMux(),
	}

	apiMux := http.NewServeMux()

	server.authAPI.RegisterRoutes(apiMux)
	server.haikuAPI.RegisterRoutes(apiMux)
	server.markovAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check and metrics, which are unauthed so probes and scrapers can use them
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	if reg != nil {
		server.apiMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	} else {
		server.apiMux.Handle("/metrics", promhttp.Handler())
	}

	server.apiMux.Handle("/api/", authedAPI)

	return server
}

// Handler returns the root handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.apiMux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote_addr", getClientIP(r, s.cm),
			"duration", time.Since(start),
		)
	})
}

// getClientIP returns the client address. Forwarding headers are only
// honored when the direct peer is a trusted proxy.
func getClientIP(r *http.Request, cm *ConfigManager) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If splitting fails (e.g., no port), use the address as is.
		ip = r.RemoteAddr
	}
	if cm == nil || !cm.IsTrusted(ip) {
		return ip
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}

	// The X-Forwarded-For header can contain a comma-separated list of IPs.
	// The first IP in the list is the original client IP.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}
	return ip
}
