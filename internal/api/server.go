package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/audit"
	"github.com/oikomaticz/oikomaticz-core/internal/auth"
	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/eventsystem"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/logging"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
	"github.com/oikomaticz/oikomaticz-core/internal/notify"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Devices is the part of the device registry the API uses.
type Devices interface {
	List(ctx context.Context, filter device.Filter) []device.Device
	Get(ctx context.Context, idx int64) (*device.Device, error)
	Update(ctx context.Context, d *device.Device) error
}

// History reads stored device samples.
type History interface {
	Range(ctx context.Context, idx int64, since, until time.Time, limit int) ([]device.Sample, error)
}

// Worker sends device commands and reports dispatch counters.
type Worker interface {
	SendCommand(ctx context.Context, idx int64, cmd rx.Command) error
	UpdateDevice(idx int64, nvalue int, svalue string) error
	Stats() mainworker.Stats
}

// Hardware lists and restarts hardware adapters.
type Hardware interface {
	List() []hardware.Info
	Get(id int) (hardware.Info, error)
	Restart(id int) error
}

// Rules manages rule definitions.
type Rules interface {
	ListRules(ctx context.Context) []eventsystem.Rule
	GetRule(ctx context.Context, id string) (*eventsystem.Rule, error)
	CreateRule(ctx context.Context, rule *eventsystem.Rule) error
	UpdateRule(ctx context.Context, rule *eventsystem.Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// RuleRunner triggers rules manually.
type RuleRunner interface {
	Trigger(ctx context.Context, ruleID string) (string, error)
}

// Executions reads rule execution history.
type Executions interface {
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]eventsystem.Execution, error)
}

// Notifications sends notifications and manages thresholds.
type Notifications interface {
	Send(ctx context.Context, msg notify.Message) error
	Recent(ctx context.Context, limit int) ([]notify.Record, error)
	Thresholds() []notify.Threshold
	AddThreshold(ctx context.Context, t *notify.Threshold) error
	RemoveThreshold(ctx context.Context, id int64) error
}

// Auth authenticates requests and manages accounts.
type Auth interface {
	Login(ctx context.Context, username, password string) (*auth.TokenPair, error)
	Refresh(ctx context.Context, raw string) (*auth.TokenPair, error)
	Logout(ctx context.Context, raw string) error
	Authenticate(token string) (*auth.Claims, error)
	ListUsers(ctx context.Context) ([]auth.User, error)
	CreateUser(ctx context.Context, username, displayName, password string, role auth.Role) (*auth.User, error)
	UpdateUser(ctx context.Context, id, displayName string, role auth.Role, active bool) (*auth.User, error)
	ChangePassword(ctx context.Context, id, password string) error
	DeleteUser(ctx context.Context, id string) error
}

// EventLog records and lists hub activity.
type EventLog interface {
	Record(ctx context.Context, e *audit.Entry)
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Deps holds the dependencies required by the API server. Rules, Runner,
// Executions, Notifications, EventLog and Metrics are optional; their
// routes answer 503 when nil.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	RateLimit config.RateLimitConfig
	Logger    *logging.Logger
	Version   string

	Auth          Auth
	Devices       Devices
	History       History
	Worker        Worker
	Hardware      Hardware
	Rules         Rules
	Runner        RuleRunner
	Executions    Executions
	Notifications Notifications
	EventLog      EventLog
	Metrics       http.Handler

	// Hub is shared with the rule engine and the mainworker. New creates
	// one when nil.
	Hub *Hub
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	version string
	started time.Time

	auth          Auth
	devices       Devices
	history       History
	worker        Worker
	hardware      Hardware
	rules         Rules
	runner        RuleRunner
	executions    Executions
	notifications Notifications
	events        EventLog
	metrics       http.Handler

	hub     *Hub
	tickets *ticketStore
	limiter *loginLimiter

	server *http.Server
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("auth service is required")
	}
	if deps.Devices == nil || deps.Worker == nil || deps.Hardware == nil {
		return nil, errors.New("devices, worker and hardware are required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		logger:        deps.Logger,
		version:       deps.Version,
		started:       time.Now(),
		auth:          deps.Auth,
		devices:       deps.Devices,
		history:       deps.History,
		worker:        deps.Worker,
		hardware:      deps.Hardware,
		rules:         deps.Rules,
		runner:        deps.Runner,
		executions:    deps.Executions,
		notifications: deps.Notifications,
		events:        deps.EventLog,
		metrics:       deps.Metrics,
		hub:           hub,
		tickets:       newTicketStore(),
		limiter:       newLoginLimiter(deps.RateLimit),
	}, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router. Start uses it; tests call it directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanupLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

// cleanupLoop expires WebSocket tickets and login rate-limit windows.
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickets.expire(now)
			s.limiter.expire(now)
		}
	}
}

// record writes an activity entry when an event log is configured.
func (s *Server) record(r *http.Request, action, entityType, entityID string, details map[string]any) {
	if s.events == nil {
		return
	}
	e := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     "api",
		Details:    details,
	}
	if c := claimsFrom(r.Context()); c != nil {
		e.UserID = c.Subject
	}
	s.events.Record(r.Context(), e)
}
