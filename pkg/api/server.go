package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/aisu-os/core/pkg/auth"
	"github.com/aisu-os/core/pkg/config"
	"github.com/aisu-os/core/pkg/log"
	"github.com/aisu-os/core/pkg/manager"
	"github.com/aisu-os/core/pkg/metrics"
	"github.com/aisu-os/core/pkg/ratelimit"
	"github.com/aisu-os/core/pkg/runtime"
	"github.com/aisu-os/core/pkg/store"
	"github.com/aisu-os/core/pkg/terminal"
)

// Server wires the HTTP surface: auth, container lifecycle, filesystem and
// the terminal WebSocket.
type Server struct {
	cfg     *config.Config
	store   store.Store
	auth    *auth.Service
	manager *manager.Manager
	runtime runtime.Runtime
	limiter ratelimit.Limiter
	logger  zerolog.Logger

	http *http.Server
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, st store.Store, authSvc *auth.Service, mgr *manager.Manager, rt runtime.Runtime, limiter ratelimit.Limiter) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		auth:    authSvc,
		manager: mgr,
		runtime: rt,
		limiter: limiter,
		logger:  log.WithComponent("api"),
	}

	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))),
	)

	api := router.PathPrefix("/api/v1").Subrouter()

	window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second

	// Public auth routes
	api.HandleFunc("/auth/register",
		rateLimited(limiter, cfg.RateLimit.AuthPerWindow, window, s.handleRegister)).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/login",
		rateLimited(limiter, cfg.RateLimit.AuthPerWindow, window, s.handleLogin)).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/username-info",
		rateLimited(limiter, cfg.RateLimit.UsernameInfoPerWindow, window, s.handleUsernameInfo)).Methods("GET", "OPTIONS")

	// Terminal WebSocket authenticates inside the handler (token in query).
	api.Handle("/ws/terminal", terminal.NewHandler(authSvc, mgr, rt)).Methods("GET")

	// Authenticated routes
	authed := api.PathPrefix("/").Subrouter()
	authed.Use(auth.Middleware(authSvc))

	authed.HandleFunc("/auth/me", s.handleMe).Methods("GET", "OPTIONS")

	authed.HandleFunc("/container/status", s.handleContainerStatus).Methods("GET", "OPTIONS")
	authed.HandleFunc("/container/start", s.handleContainerStart).Methods("POST", "OPTIONS")
	authed.HandleFunc("/container/stop", s.handleContainerStop).Methods("POST", "OPTIONS")
	authed.HandleFunc("/container/restart", s.handleContainerRestart).Methods("POST", "OPTIONS")
	authed.HandleFunc("/container/events", s.handleContainerEvents).Methods("GET", "OPTIONS")

	authed.HandleFunc("/fs/tree", s.handleFSTree).Methods("GET", "OPTIONS")
	authed.HandleFunc("/fs/node", s.handleFSGetNode).Methods("GET", "OPTIONS")
	authed.HandleFunc("/fs/node", s.handleFSCreateNode).Methods("POST", "OPTIONS")
	authed.HandleFunc("/fs/ls", s.handleFSList).Methods("GET", "OPTIONS")
	authed.HandleFunc("/fs/rename", s.handleFSRename).Methods("PATCH", "OPTIONS")
	authed.HandleFunc("/fs/move", s.handleFSMove).Methods("POST", "OPTIONS")
	authed.HandleFunc("/fs/copy", s.handleFSCopy).Methods("POST", "OPTIONS")
	authed.HandleFunc("/fs/delete", s.handleFSDelete).Methods("POST", "OPTIONS")
	authed.HandleFunc("/fs/bulk-delete", s.handleFSBulkDelete).Methods("POST", "OPTIONS")
	authed.HandleFunc("/fs/bulk-move", s.handleFSBulkMove).Methods("POST", "OPTIONS")
	authed.HandleFunc("/fs/trash", s.handleFSListTrash).Methods("GET", "OPTIONS")
	authed.HandleFunc("/fs/restore", s.handleFSRestore).Methods("POST", "OPTIONS")
	authed.HandleFunc("/fs/empty-trash", s.handleFSEmptyTrash).Methods("POST", "OPTIONS")
	authed.HandleFunc("/fs/desktop-positions", s.handleFSDesktopPositions).Methods("PATCH", "OPTIONS")
	authed.HandleFunc("/fs/search", s.handleFSSearch).Methods("GET", "OPTIONS")
	authed.HandleFunc("/fs/file", s.handleFSReadFile).Methods("GET", "OPTIONS")
	authed.HandleFunc("/fs/file", s.handleFSWriteFile).Methods("POST", "OPTIONS")

	var handler http.Handler = router
	handler = allowCORS(cfg.CORS.Origins, handler)
	handler = metrics.Middleware("api", handler)

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start serves HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("API server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
