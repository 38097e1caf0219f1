package hardware

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// heartbeatInterval is how often RunPoller stamps the heartbeat between polls.
const heartbeatInterval = 10 * time.Second

// Base carries the lifecycle shared by every adapter. Adapters embed a
// *Base and implement Write plus their own Start/Stop around Begin/End.
//
//	func (h *Meter) Start(ctx context.Context, sink hardware.Sink) error {
//	    runCtx, err := h.Begin(ctx, sink)
//	    if err != nil {
//	        return err
//	    }
//	    h.Go(func() { h.RunPoller(runCtx, h.interval, h.poll) })
//	    return nil
//	}
type Base struct {
	cfg    config.HardwareConfig
	logger Logger

	mu      sync.Mutex
	running bool
	sink    Sink
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	heartbeat atomic.Int64
	now       func() time.Time
}

// NewBase creates the shared state for an adapter.
func NewBase(cfg config.HardwareConfig, logger Logger) *Base {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Base{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// ID returns the hardware id.
func (b *Base) ID() int { return b.cfg.ID }

// Name returns the configured name.
func (b *Base) Name() string { return b.cfg.Name }

// Type returns the adapter type name.
func (b *Base) Type() string { return b.cfg.Type }

// Config returns the hardware configuration.
func (b *Base) Config() config.HardwareConfig { return b.cfg }

// Logger returns the adapter logger.
func (b *Base) Logger() Logger { return b.logger }

// Begin marks the hardware running and returns the context background
// work must observe.
func (b *Base) Begin(ctx context.Context, sink Sink) (context.Context, error) {
	if sink == nil {
		return nil, ErrNoSink
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, b.cfg.Name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.running = true
	b.sink = sink
	b.cancel = cancel
	b.Heartbeat()

	b.logger.Info("hardware started", "hardware_id", b.cfg.ID, "name", b.cfg.Name, "type", b.cfg.Type)
	return runCtx, nil
}

// Go runs fn in a goroutine that End waits for.
func (b *Base) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// End cancels background work and waits for it. Calling End on stopped
// hardware is a no-op.
func (b *Base) End() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.wg.Wait()

	b.logger.Info("hardware stopped", "hardware_id", b.cfg.ID, "name", b.cfg.Name)
	return nil
}

// IsRunning reports whether Begin has been called without a matching End.
func (b *Base) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Heartbeat records that the adapter loop is alive.
func (b *Base) Heartbeat() {
	b.heartbeat.Store(b.now().UnixNano())
}

// LastHeartbeat returns the last heartbeat, or the zero time.
func (b *Base) LastHeartbeat() time.Time {
	ns := b.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SendMessage stamps msg with this hardware's id and the current time and
// hands it to the sink.
func (b *Base) SendMessage(msg rx.Message) error {
	b.mu.Lock()
	sink := b.sink
	running := b.running
	b.mu.Unlock()

	if !running || sink == nil {
		return ErrNotRunning
	}

	msg.HardwareID = b.cfg.ID
	msg.Normalize(b.cfg.ID, b.now())
	if err := msg.Validate(); err != nil {
		return err
	}

	b.Heartbeat()
	return sink.Submit(msg)
}

// RunPoller calls poll immediately and then every interval until ctx is
// done. Poll errors are logged and do not stop the loop. The heartbeat is
// stamped between polls so that long intervals do not trip the watchdog.
func (b *Base) RunPoller(ctx context.Context, interval time.Duration, poll func(ctx context.Context) error) {
	b.pollOnce(ctx, poll)

	pollTicker := time.NewTicker(interval)
	defer pollTicker.Stop()
	hbTicker := time.NewTicker(min(interval, heartbeatInterval))
	defer hbTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hbTicker.C:
			b.Heartbeat()
		case <-pollTicker.C:
			b.pollOnce(ctx, poll)
		}
	}
}

func (b *Base) pollOnce(ctx context.Context, poll func(ctx context.Context) error) {
	b.Heartbeat()
	if err := poll(ctx); err != nil && ctx.Err() == nil {
		b.logger.Warn("hardware poll failed", "hardware_id", b.cfg.ID, "name", b.cfg.Name, "error", err)
	}
}
