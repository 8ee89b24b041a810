// Package api exposes the management HTTP surface: deployment triggers,
// deployment status polling, and node listing.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vpanel/core/internal/panel/db"
	"github.com/vpanel/core/internal/panel/deploy"
	pkgapi "github.com/vpanel/core/pkg/api"
	applogger "github.com/vpanel/core/pkg/logger"
)

// DeploymentService is the part of the panel service the API needs for
// provisioning operations
type DeploymentService interface {
	DeployServer(ctx context.Context, req pkgapi.DeployServerRequest) (pkgapi.DeployServerResponse, error)
	DeploymentStatus(ctx context.Context, deploymentID string) (deploy.JobSnapshot, error)
	ListNodes(ctx context.Context) ([]db.Node, error)
}

// ServerConfig contains configuration for the API server
type ServerConfig struct {
	Address     string
	CORSOrigins []string
	Version     string
}

// Server is the management HTTP server
type Server struct {
	server  *http.Server
	service DeploymentService
	logger  *applogger.Logger
	config  ServerConfig
}

// NewServer creates the API server
func NewServer(config ServerConfig, service DeploymentService, logger *applogger.Logger) *Server {
	return &Server{
		service: service,
		logger:  logger.WithComponent("api"),
		config:  config,
		server: &http.Server{
			Addr:         config.Address,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler builds the routed handler with the full middleware chain.
// Exposed separately from Start so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/servers/deploy", s.handleDeployServer)
	mux.HandleFunc("GET /api/servers/deploy/{deploymentID}/status", s.handleDeploymentStatus)
	mux.HandleFunc("GET /api/servers", s.handleListServers)
	mux.HandleFunc("GET /health", s.handleHealth)

	chain := Chain(
		RequestID(s.logger),
		Recovery(),
		Logging(),
		CORS(s.config.CORSOrigins),
	)
	return chain(mux)
}

// Start begins serving requests until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.server.Handler = s.Handler()

	s.logger.InfoContext(ctx, "starting API server", "address", s.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server, draining in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down API server")
	return s.server.Shutdown(shutdownCtx)
}
