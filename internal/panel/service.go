// Package panel wires the management service together: node registry,
// provisioning orchestrator, subscription lifecycle, schedulers, and the
// HTTP API.
package panel

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vpanel/core/internal/panel/api"
	"github.com/vpanel/core/internal/panel/billing"
	"github.com/vpanel/core/internal/panel/config"
	"github.com/vpanel/core/internal/panel/db"
	"github.com/vpanel/core/internal/panel/deploy"
	"github.com/vpanel/core/internal/panel/lifecycle"
	"github.com/vpanel/core/internal/panel/notify"
	"github.com/vpanel/core/internal/panel/provider"
	"github.com/vpanel/core/internal/panel/registry"
	"github.com/vpanel/core/internal/panel/scheduler"
	"github.com/vpanel/core/internal/panel/sshx"
	pkgapi "github.com/vpanel/core/pkg/api"
	apperrors "github.com/vpanel/core/pkg/errors"
	"github.com/vpanel/core/pkg/events"
	applogger "github.com/vpanel/core/pkg/logger"
)

// Version is set at build time
var Version = "dev"

// Service coordinates all components and manages their lifecycle
type Service struct {
	config *config.Config
	logger *applogger.Logger

	store        db.Store
	bus          events.EventBus
	sshPool      *sshx.Pool
	registry     *registry.Registry
	tracker      *deploy.Tracker
	orchestrator *deploy.Orchestrator
	lifecycle    *lifecycle.Lifecycle
	scheduler    *scheduler.Manager
	apiServer    *api.Server
	providers    map[string]provider.Provider

	ctx    context.Context
	cancel context.CancelFunc

	signalChan chan os.Signal
	shutdownWg sync.WaitGroup
	mu         sync.RWMutex
	isRunning  bool
}

// NewService creates the service and initializes all components in
// dependency order
func NewService(cfg *config.Config, logger *applogger.Logger) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		config:     cfg,
		logger:     logger.WithComponent("service"),
		providers:  make(map[string]provider.Provider),
		ctx:        ctx,
		cancel:     cancel,
		signalChan: make(chan os.Signal, 1),
	}

	if err := s.initializeComponents(logger); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize service components: %w", err)
	}
	return s, nil
}

func (s *Service) initializeComponents(logger *applogger.Logger) error {
	s.logger.Debug("initializing database store")
	store, err := db.NewStore(&db.Config{
		Path:            s.config.DB.Path,
		MaxOpenConns:    s.config.DB.MaxOpenConns,
		MaxIdleConns:    s.config.DB.MaxIdleConns,
		ConnMaxLifetime: s.config.DB.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database store: %w", err)
	}
	s.store = store

	s.bus = events.NewBus(logger)

	s.sshPool = sshx.NewPool(sshx.PoolConfig{
		DialTimeout:   s.config.SSH.DialTimeout,
		MaxIdle:       s.config.SSH.MaxIdle,
		RetryAttempts: s.config.SSH.RetryAttempts,
	}, logger)

	s.registry = registry.New(s.store, logger)
	s.tracker = deploy.NewTracker(s.config.Deploy.JobRetention)
	s.orchestrator = deploy.NewOrchestrator(
		s.tracker, s.registry, s.sshPool, s.bus, logger, s.config.Deploy)

	notifier := notify.NewBusNotifier(s.bus, logger)
	gateway := billing.NewLogGateway(logger)
	s.lifecycle = lifecycle.New(s.store, gateway, notifier, s.bus, logger, s.config.Lifecycle)

	if s.config.Hetzner.APIToken != "" {
		hetzner, err := provider.NewHetzner(s.config.Hetzner, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize hetzner provider: %w", err)
		}
		s.providers[hetzner.Name()] = hetzner
	}

	s.scheduler = scheduler.NewManager(logger)
	if err := s.registerTasks(); err != nil {
		return err
	}

	s.apiServer = api.NewServer(api.ServerConfig{
		Address:     s.config.API.ListenAddr,
		CORSOrigins: s.config.API.CORSOrigins,
		Version:     Version,
	}, s, logger)

	s.logger.Info("all service components initialized")
	return nil
}

func (s *Service) registerTasks() error {
	tasks := []scheduler.Task{
		{
			Name:       "subscription-status-refresh",
			Interval:   s.config.Lifecycle.RefreshInterval,
			RunAtStart: true,
			Run:        s.lifecycle.RefreshStatuses,
		},
		{
			Name:     "subscription-reminders",
			Interval: s.config.Lifecycle.ReminderInterval,
			Run:      s.lifecycle.DispatchReminders,
		},
		{
			Name:     "subscription-renewals",
			Interval: s.config.Lifecycle.RenewalInterval,
			Run:      s.lifecycle.ProcessRenewals,
		},
		{
			Name:     "deploy-job-sweep",
			Interval: s.config.Deploy.JobRetention,
			Run: func(context.Context) error {
				s.tracker.Sweep()
				return nil
			},
		},
		{
			Name:     "ssh-idle-cleanup",
			Interval: s.config.SSH.MaxIdle,
			Run: func(context.Context) error {
				s.sshPool.CleanupIdleConnections()
				return nil
			},
		},
	}

	for _, task := range tasks {
		if err := s.scheduler.Register(task); err != nil {
			return fmt.Errorf("failed to register task %s: %w", task.Name, err)
		}
	}
	return nil
}

// DeployServer registers a node and starts its provisioning pipeline. For
// provider-backed requests the cloud server is created first and its
// address becomes the node's host.
func (s *Service) DeployServer(ctx context.Context, req pkgapi.DeployServerRequest) (pkgapi.DeployServerResponse, error) {
	spec := registry.NodeSpec{
		Name:        req.Name,
		IP:          req.IP,
		SSHUser:     req.SSHUsername,
		SSHPort:     req.SSHPort,
		SSHPassword: stringValue(req.SSHPassword),
		SSHKeyPath:  stringValue(req.SSHKeyPath),
		Location:    stringValue(req.Location),
		Provider:    stringValue(req.Provider),
		MaxClients:  req.MaxClients,
	}
	if spec.SSHPort == 0 {
		spec.SSHPort = 22
	}
	if spec.MaxClients == 0 {
		spec.MaxClients = s.config.Deploy.DefaultMaxClients
	}

	if spec.IP == "" {
		if spec.Provider == "" {
			return pkgapi.DeployServerResponse{}, apperrors.NewAPIError(
				apperrors.ErrCodeValidation, "either ip or provider must be set", false, nil)
		}
		p, ok := s.providers[spec.Provider]
		if !ok {
			return pkgapi.DeployServerResponse{}, provider.ErrUnknownProvider.
				WithMetadata("provider", spec.Provider)
		}
		created, err := p.CreateServer(ctx, spec.Name)
		if err != nil {
			return pkgapi.DeployServerResponse{}, err
		}
		spec.IP = created.IP
	}

	node, err := s.registry.RegisterNode(ctx, spec)
	if err != nil {
		return pkgapi.DeployServerResponse{}, err
	}

	jobID := s.orchestrator.StartDeployment(ctx, node)
	return pkgapi.DeployServerResponse{
		DeploymentID: jobID,
		ServerID:     node.ID,
	}, nil
}

// DeploymentStatus returns the snapshot for a deployment job
func (s *Service) DeploymentStatus(ctx context.Context, deploymentID string) (deploy.JobSnapshot, error) {
	return s.tracker.Get(deploymentID)
}

// ListNodes returns all registered nodes
func (s *Service) ListNodes(ctx context.Context) ([]db.Node, error) {
	return s.registry.ListNodes(ctx)
}

// Start launches the schedulers and the API server
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("service is already running")
	}

	s.logger.Info("starting vpanel service")
	s.setupSignalHandling()

	if err := s.scheduler.Start(s.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	s.shutdownWg.Add(1)
	go func() {
		defer s.shutdownWg.Done()
		if err := s.apiServer.Start(s.ctx); err != nil {
			s.logger.Error("API server exited with error", "error", err)
			s.cancel()
		}
	}()

	s.isRunning = true
	s.logger.Info("vpanel service started")
	return nil
}

func (s *Service) setupSignalHandling() {
	signal.Notify(s.signalChan, syscall.SIGINT, syscall.SIGTERM)

	s.shutdownWg.Add(1)
	go func() {
		defer s.shutdownWg.Done()
		select {
		case sig := <-s.signalChan:
			s.logger.Info("received shutdown signal", "signal", sig.String())

			timeout := 30 * time.Second
			if s.config.Service.ShutdownTimeout > 0 {
				timeout = s.config.Service.ShutdownTimeout
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := s.Stop(shutdownCtx); err != nil {
				s.logger.Error("error during graceful shutdown", "error", err)
			}
		case <-s.ctx.Done():
		}
	}()
}

// WaitForShutdown blocks until the service has fully stopped
func (s *Service) WaitForShutdown() {
	<-s.ctx.Done()
	s.shutdownWg.Wait()
	s.logger.Info("service shutdown complete")
}

// Stop gracefully shuts down all components in reverse dependency order
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.logger.Info("stopping vpanel service")

	var firstErr error
	if err := s.apiServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to stop API server", "error", err)
		firstErr = err
	}
	if err := s.scheduler.Stop(ctx); err != nil {
		s.logger.Error("failed to stop scheduler", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	s.sshPool.CloseAll()
	if err := s.bus.Close(); err != nil {
		s.logger.Warn("failed to close event bus", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close database store", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	s.cancel()
	s.isRunning = false
	s.logger.Info("vpanel service stopped")
	return firstErr
}

// Health verifies the service's critical dependencies
func (s *Service) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return fmt.Errorf("service is not running")
	}
	if err := s.store.Ping(context.Background()); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// IsRunning reports whether the service has been started
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
