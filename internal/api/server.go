package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apimiddleware "github.com/tsanders-rh/panelctl/internal/api/middleware"
	"github.com/tsanders-rh/panelctl/internal/auth"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/internal/plan"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout" validate:"gt=0"`
	EnableCORS      bool          `yaml:"enableCors"`
	JWTSecret       string        `yaml:"jwtSecret"`
	JWTTTL          time.Duration `yaml:"jwtTtl" validate:"gt=0"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	MaxBodySize     string        `yaml:"maxBodySize"`
	IdempotencyTTL  time.Duration `yaml:"idempotencyTtl" validate:"gt=0"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		ShutdownTimeout: 10 * time.Second,
		// Long enough for a create saga with retries against a slow panel
		RequestTimeout: 2 * time.Minute,
		EnableCORS:     true,
		JWTSecret:      "change-me-in-production-min-32-chars",
		JWTTTL:         15 * time.Minute,
		AllowedOrigins: []string{"http://localhost:3000"},
		MaxBodySize:    "1M",
		IdempotencyTTL: 24 * time.Hour,
	}
}

// Provisioner runs the server lifecycle sagas
type Provisioner interface {
	Create(ctx context.Context, req *types.CreateServerRequest) (*types.ServerRecord, error)
	Get(ctx context.Context, recordID, ownerID string, asAdmin bool) (*types.ServerRecord, *panel.RemoteServer, error)
	Update(ctx context.Context, req *types.UpdateServerRequest) (*panel.RemoteServer, error)
	Delete(ctx context.Context, req *types.DeleteServerRequest) error
	Renew(ctx context.Context, recordID, ownerID string, asAdmin bool) (*types.ServerRecord, error)
}

// ServerLister lists server records
type ServerLister interface {
	ListByOwner(ctx context.Context, ownerID string) ([]*types.ServerRecord, error)
	ListAll(ctx context.Context) ([]*types.ServerRecord, error)
}

// Ledger reads and credits resource ledgers
type Ledger interface {
	Get(ctx context.Context, userID string) (*types.Ledger, error)
	Credit(ctx context.Context, userID string, delta types.Resources, m types.LedgerMutation) error
}

// UserStore manages users
type UserStore interface {
	Create(ctx context.Context, user *types.User, balance types.Resources) error
	GetByID(ctx context.Context, id string) (*types.User, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*types.User, error)
}

// PurgeService starts and tracks purge jobs
type PurgeService interface {
	Start(ctx context.Context, keywords string, batchSize int, requestedBy string) (*types.PurgeJob, error)
	Status(ctx context.Context, id string) (*types.PurgeJob, error)
	List(ctx context.Context, limit int) ([]*types.PurgeJob, error)
	Cancel(ctx context.Context, id string) (*types.PurgeJob, error)
}

// IdempotencyStore caches responses by Idempotency-Key
type IdempotencyStore interface {
	Lookup(ctx context.Context, key, requestHash string) (*types.IdempotencyKey, error)
	Store(ctx context.Context, key types.IdempotencyKey) error
}

// NodeLister lists panel nodes
type NodeLister interface {
	ListNodes(ctx context.Context) ([]panel.Node, error)
}

// PlanCatalog resolves server plans
type PlanCatalog interface {
	List() []*plan.Plan
	Apply(name string, req *types.CreateServerRequest) error
}

// Pinger reports database reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the API
type Deps struct {
	Provisioner    Provisioner
	Servers        ServerLister
	Ledger         Ledger
	Users          UserStore
	Purges         PurgeService
	Idempotency    IdempotencyStore
	Nodes          NodeLister
	Plans          PlanCatalog
	Database       Pinger
	DefaultBalance types.Resources
}

// Server represents the HTTP API server
type Server struct {
	echo   *echo.Echo
	config *ServerConfig
	deps   Deps
	auth   *auth.Auth
	logger *zap.Logger
}

// NewServer creates a new API server
func NewServer(config *ServerConfig, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Request logging goes through zap
	e.Logger.SetOutput(io.Discard)

	e.Validator = NewValidator()

	s := &Server{
		echo:   e,
		config: config,
		deps:   deps,
		auth:   auth.NewAuth(config.JWTSecret, config.JWTTTL),
		logger: logger.Named("api"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware stack
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(apimiddleware.Logger(s.logger))

	if s.config.EnableCORS {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodPatch},
			AllowHeaders: []string{
				echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
				echo.HeaderAuthorization, HeaderIdempotencyKey,
			},
			ExposeHeaders: []string{echo.HeaderContentLength},
		}))
	}

	s.echo.Use(middleware.BodyLimit(s.config.MaxBodySize))

	s.echo.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
		Timeout: s.config.RequestTimeout,
	}))
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/ready", s.readyCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1", auth.RequireAuth(s.auth))
	admin := auth.RequireAdmin()

	resourceHandler := NewResourceHandler(s.deps.Ledger, s.logger)
	v1.GET("/me/resources", resourceHandler.Me)

	planHandler := NewPlanHandler(s.deps.Plans)
	v1.GET("/plans", planHandler.List)

	serverHandler := NewServerHandler(s.deps.Provisioner, s.deps.Servers, s.deps.Idempotency, s.deps.Plans, s.config.IdempotencyTTL, s.logger)
	servers := v1.Group("/servers")
	servers.POST("", serverHandler.Create)
	servers.GET("", serverHandler.List)
	servers.GET("/:id", serverHandler.Get)
	servers.PATCH("/:id", serverHandler.Update)
	servers.DELETE("/:id", serverHandler.Delete)
	servers.POST("/:id/renew", serverHandler.Renew)

	userHandler := NewUserHandler(s.deps.Users, s.deps.Servers, s.deps.DefaultBalance, s.logger)
	users := v1.Group("/users", admin)
	users.GET("", userHandler.List)
	users.POST("", userHandler.Create)
	users.GET("/:id", userHandler.Get)
	users.DELETE("/:id", userHandler.Delete)
	users.GET("/:id/resources", resourceHandler.GetForUser)
	users.POST("/:id/resources", resourceHandler.Grant)

	nodeHandler := NewNodeHandler(s.deps.Nodes, s.logger)
	v1.GET("/nodes", nodeHandler.List, admin)

	purgeHandler := NewPurgeHandler(s.deps.Purges, s.logger)
	purges := v1.Group("/admin/purge", admin)
	purges.GET("", purgeHandler.List)
	purges.POST("", purgeHandler.Start)
	purges.GET("/:id", purgeHandler.Get)
	purges.POST("/:id/cancel", purgeHandler.Cancel)
}

// healthCheck returns basic health status
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// readyCheck checks if server is ready to handle requests
func (s *Server) readyCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if s.deps.Database != nil {
		if err := s.deps.Database.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  "database unavailable",
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance for testing
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
