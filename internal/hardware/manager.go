package hardware

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
)

// Status is the lifecycle state of a hardware instance.
type Status string

const (
	StatusDisabled Status = "disabled"
	StatusStopped  Status = "stopped"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
	StatusTimeout  Status = "timeout"
)

// defaultWatchdogInterval is how often heartbeats are checked.
const defaultWatchdogInterval = 10 * time.Second

// Info is a snapshot of one hardware instance.
type Info struct {
	ID            int       `json:"id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Enabled       bool      `json:"enabled"`
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Restarts      int       `json:"restarts"`
	Error         string    `json:"error,omitempty"`
}

// Listener is told about hardware status changes, including watchdog
// timeouts.
type Listener interface {
	HardwareStatusChanged(info Info)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(info Info)

// HardwareStatusChanged calls f(info).
func (f ListenerFunc) HardwareStatusChanged(info Info) { f(info) }

type entry struct {
	cfg      config.HardwareConfig
	hw       Hardware
	status   Status
	lastErr  error
	restarts int
}

func (e *entry) info() Info {
	info := Info{
		ID:       e.cfg.ID,
		Name:     e.cfg.Name,
		Type:     e.cfg.Type,
		Enabled:  e.cfg.Enabled,
		Status:   e.status,
		Restarts: e.restarts,
	}
	if e.hw != nil {
		info.LastHeartbeat = e.hw.LastHeartbeat()
	}
	if e.lastErr != nil {
		info.Error = e.lastErr.Error()
	}
	return info
}

// Manager builds hardware from configuration, runs it and restarts
// adapters whose heartbeat goes stale.
type Manager struct {
	factory *Factory
	sink    Sink
	logger  Logger

	watchdogInterval time.Duration
	now              func() time.Time

	mu        sync.RWMutex
	entries   map[int]*entry
	listeners []Listener
	runCtx    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a hardware manager delivering messages to sink.
func NewManager(factory *Factory, sink Sink) *Manager {
	return &Manager{
		factory:          factory,
		sink:             sink,
		logger:           noopLogger{},
		watchdogInterval: defaultWatchdogInterval,
		now:              time.Now,
		entries:          make(map[int]*entry),
	}
}

// SetLogger sets the logger for the manager and the adapters it builds.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// AddListener registers a status listener.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Load builds an adapter for every enabled configuration. Disabled
// entries are tracked so they show up in List.
func (m *Manager) Load(cfgs []config.HardwareConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, cfg := range cfgs {
		if _, exists := m.entries[cfg.ID]; exists {
			errs = append(errs, fmt.Errorf("hardware id %d loaded twice", cfg.ID))
			continue
		}
		e := &entry{cfg: cfg, status: StatusDisabled}
		if cfg.Enabled {
			hw, err := m.factory.New(cfg, m.logger)
			if err != nil {
				errs = append(errs, err)
				e.status = StatusFailed
				e.lastErr = err
			} else {
				e.hw = hw
				e.status = StatusStopped
			}
		}
		m.entries[cfg.ID] = e
	}
	return errors.Join(errs...)
}

// Add registers an already built adapter.
func (m *Manager) Add(cfg config.HardwareConfig, hw Hardware) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[cfg.ID]; exists {
		return fmt.Errorf("hardware id %d already registered", cfg.ID)
	}
	m.entries[cfg.ID] = &entry{cfg: cfg, hw: hw, status: StatusStopped}
	return nil
}

// Start starts every loaded adapter concurrently and begins the watchdog.
// A failing adapter does not prevent the others from starting; the first
// failure is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return errors.New("hardware manager already started")
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	runCtx := m.runCtx
	targets := m.startable()
	m.mu.Unlock()

	var g errgroup.Group
	for _, e := range targets {
		g.Go(func() error {
			return m.startEntry(runCtx, e)
		})
	}
	err := g.Wait()

	go m.watchdog(runCtx)

	m.logger.Info("hardware manager started", "count", len(targets))
	return err
}

// startable returns entries with a built adapter. Caller holds mu.
func (m *Manager) startable() []*entry {
	out := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.hw != nil {
			out = append(out, e)
		}
	}
	return out
}

func (m *Manager) startEntry(ctx context.Context, e *entry) error {
	err := e.hw.Start(ctx, m.sink)

	m.mu.Lock()
	if err != nil {
		e.status = StatusFailed
		e.lastErr = err
	} else {
		e.status = StatusRunning
		e.lastErr = nil
	}
	info := e.info()
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("hardware failed to start", "hardware_id", e.cfg.ID, "name", e.cfg.Name, "error", err)
		err = fmt.Errorf("starting hardware %q: %w", e.cfg.Name, err)
	}
	m.notify(info)
	return err
}

func (m *Manager) stopEntry(e *entry) error {
	err := e.hw.Stop()

	m.mu.Lock()
	e.status = StatusStopped
	if err != nil {
		e.lastErr = err
	}
	info := e.info()
	m.mu.Unlock()

	m.notify(info)
	return err
}

// Stop stops the watchdog and every adapter.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	targets := m.startable()
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	var g errgroup.Group
	for _, e := range targets {
		g.Go(func() error {
			return m.stopEntry(e)
		})
	}
	err := g.Wait()

	m.logger.Info("hardware manager stopped")
	return err
}

// Restart stops and starts one adapter.
func (m *Manager) Restart(id int) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	runCtx := m.runCtx
	started := m.cancel != nil
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrHardwareNotFound, id)
	}
	if e.hw == nil {
		return fmt.Errorf("%w: %d", ErrHardwareDisabled, id)
	}
	if !started {
		return fmt.Errorf("%w: manager not started", ErrNotRunning)
	}

	if err := m.stopEntry(e); err != nil {
		m.logger.Warn("hardware stop before restart failed", "hardware_id", id, "error", err)
	}

	m.mu.Lock()
	e.restarts++
	m.mu.Unlock()

	return m.startEntry(runCtx, e)
}

// Resolve returns the running adapter for a hardware id.
func (m *Manager) Resolve(id int) (Hardware, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrHardwareNotFound, id)
	}
	if !e.cfg.Enabled || e.hw == nil {
		return nil, fmt.Errorf("%w: %d", ErrHardwareDisabled, id)
	}
	if e.status != StatusRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRunning, e.cfg.Name, e.status)
	}
	return e.hw, nil
}

// List returns a snapshot of every hardware instance, ordered by id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a snapshot of one hardware instance.
func (m *Manager) Get(id int) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %d", ErrHardwareNotFound, id)
	}
	return e.info(), nil
}

func (m *Manager) notify(info Info) {
	m.mu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, l := range listeners {
		l.HardwareStatusChanged(info)
	}
}

func (m *Manager) watchdog(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkHeartbeats()
		}
	}
}

// checkHeartbeats restarts running adapters whose heartbeat is older than
// their configured timeout.
func (m *Manager) checkHeartbeats() {
	now := m.now()

	m.mu.Lock()
	var stale []*entry
	for _, e := range m.entries {
		timeout := e.cfg.HeartbeatDuration()
		if e.hw == nil || e.status != StatusRunning || timeout <= 0 {
			continue
		}
		if last := e.hw.LastHeartbeat(); !last.IsZero() && now.Sub(last) > timeout {
			e.status = StatusTimeout
			stale = append(stale, e)
		}
	}
	m.mu.Unlock()

	for _, e := range stale {
		m.mu.RLock()
		info := e.info()
		m.mu.RUnlock()

		m.logger.Warn("hardware heartbeat timeout, restarting",
			"hardware_id", e.cfg.ID,
			"name", e.cfg.Name,
			"last_heartbeat", info.LastHeartbeat,
		)
		m.notify(info)

		if err := m.Restart(e.cfg.ID); err != nil {
			m.logger.Error("hardware restart failed", "hardware_id", e.cfg.ID, "error", err)
		}
	}
}
