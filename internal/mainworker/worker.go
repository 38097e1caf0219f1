package mainworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

const (
	// DefaultQueueSize is used when Options.QueueSize is not positive.
	DefaultQueueSize = 1024

	// pruneInterval is how often history older than the retention is deleted.
	pruneInterval = time.Hour
)

// Options configures a Worker.
type Options struct {
	QueueSize int

	// HistoryRetention is how long samples are kept. Zero keeps them forever.
	HistoryRetention time.Duration

	// HideNewDevices creates devices with Used=false, the way a hub that
	// does not accept new hardware devices behaves.
	HideNewDevices bool
}

// job is one unit of dispatch work.
type job struct {
	msg *rx.Message

	// Manual updates target an existing device by idx.
	idx    int64
	value  device.Value
	source Source
}

// Worker is the central dispatch path: hardware submits messages, the
// worker stores them in the device table and fans them out.
type Worker struct {
	store    DeviceStore
	history  History
	resolver HardwareResolver
	opts     Options
	logger   Logger

	subMu       sync.RWMutex
	subscribers []Subscriber

	// mu guards queue against send-after-close.
	mu      sync.RWMutex
	queue   chan job
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup

	processed   atomic.Uint64
	dropped     atomic.Uint64
	failed      atomic.Uint64
	commands    atomic.Uint64
	lastMessage atomic.Int64

	now func() time.Time
}

// New creates a worker over the device store.
func New(store DeviceStore, opts Options) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Worker{
		store:  store,
		opts:   opts,
		logger: noopLogger{},
		queue:  make(chan job, opts.QueueSize),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// SetLogger sets the logger for the worker.
func (w *Worker) SetLogger(logger Logger) {
	w.logger = logger
}

// SetHistory enables sample recording for meter devices.
func (w *Worker) SetHistory(h History) {
	w.history = h
}

// SetResolver sets the hardware lookup used by SendCommand.
func (w *Worker) SetResolver(r HardwareResolver) {
	w.resolver = r
}

// AddSubscriber registers a subscriber. Subscribers are called in
// registration order.
func (w *Worker) AddSubscriber(s Subscriber) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	w.subscribers = append(w.subscribers, s)
}

// Subscribers returns the names of registered subscribers.
func (w *Worker) Subscribers() []string {
	w.subMu.RLock()
	defer w.subMu.RUnlock()

	names := make([]string, len(w.subscribers))
	for i, s := range w.subscribers {
		names[i] = s.Name()
	}
	return names
}

// Submit queues a message from hardware. It never blocks.
func (w *Worker) Submit(msg rx.Message) error {
	return w.enqueue(job{msg: &msg, source: SourceHardware})
}

// UpdateDevice queues a value for an existing device, as sent by the MQTT
// udevice command or the API.
func (w *Worker) UpdateDevice(idx int64, nvalue int, svalue string) error {
	return w.enqueue(job{
		idx:    idx,
		value:  device.Value{NValue: nvalue, SValue: svalue},
		source: SourceManual,
	})
}

func (w *Worker) enqueue(j job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return ErrStopped
	}
	select {
	case w.queue <- j:
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

// Start launches the dispatch goroutine and the history pruner.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errors.New("mainworker already started")
	}
	w.started = true

	// Dispatch outlives ctx: it drains until Stop closes the queue.
	dispatchCtx := context.WithoutCancel(ctx)
	pruneCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.run(dispatchCtx)
	if w.history != nil && w.opts.HistoryRetention > 0 {
		w.wg.Add(1)
		go w.pruneLoop(pruneCtx)
	}

	w.logger.Info("mainworker started", "queue_size", cap(w.queue))
	return nil
}

// Stop rejects new work, drains the queue and waits for dispatch to end.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	close(w.queue)
	w.mu.Unlock()

	if !started {
		return nil
	}
	w.cancel()
	<-w.done
	w.wg.Wait()

	w.logger.Info("mainworker stopped", "processed", w.processed.Load(), "dropped", w.dropped.Load())
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	for j := range w.queue {
		var err error
		if j.msg != nil {
			err = w.processMessage(ctx, j.msg)
		} else {
			err = w.processUpdate(ctx, j)
		}
		if err != nil {
			w.failed.Add(1)
			w.logger.Warn("dispatch failed", "error", err)
			continue
		}
		w.processed.Add(1)
		w.lastMessage.Store(w.now().UnixNano())
	}
}

func (w *Worker) processMessage(ctx context.Context, msg *rx.Message) error {
	msg.Normalize(msg.HardwareID, w.now())
	if err := msg.Validate(); err != nil {
		return err
	}

	id := msg.Identity()
	existing, created, err := w.store.Upsert(ctx, id, device.Device{
		Name: msg.DefaultName(),
		Used: !w.opts.HideNewDevices,
	})
	if err != nil {
		return fmt.Errorf("resolving device %s: %w", id, err)
	}
	if created {
		w.logger.Info("new device detected", "idx", existing.Idx, "identity", id.String(), "name", existing.Name)
	}

	updated, err := w.store.SetValue(ctx, existing.Idx, msg.Value())
	if err != nil {
		return fmt.Errorf("storing value for device %d: %w", existing.Idx, err)
	}

	var previous *device.Device
	if !created {
		previous = existing
	}
	w.record(ctx, updated)
	w.fanout(ctx, DeviceChange{
		Device:   *updated,
		Previous: previous,
		Created:  created,
		Source:   SourceHardware,
		At:       msg.At,
	})
	return nil
}

func (w *Worker) processUpdate(ctx context.Context, j job) error {
	previous, err := w.store.Get(ctx, j.idx)
	if err != nil {
		return fmt.Errorf("loading device %d: %w", j.idx, err)
	}

	v := j.value
	v.BatteryLevel = previous.BatteryLevel
	v.SignalLevel = previous.SignalLevel
	v.At = w.now()

	updated, err := w.store.SetValue(ctx, j.idx, v)
	if err != nil {
		return fmt.Errorf("storing value for device %d: %w", j.idx, err)
	}

	w.record(ctx, updated)
	w.fanout(ctx, DeviceChange{
		Device:   *updated,
		Previous: previous,
		Source:   j.source,
		At:       v.At,
	})
	return nil
}

func (w *Worker) record(ctx context.Context, d *device.Device) {
	if w.history == nil || !d.IsMeter() {
		return
	}
	sample := &device.Sample{
		DeviceIdx:  d.Idx,
		NValue:     d.NValue,
		SValue:     d.SValue,
		RecordedAt: d.LastUpdate,
	}
	if err := w.history.Record(ctx, sample); err != nil {
		w.logger.Warn("recording history failed", "idx", d.Idx, "error", err)
	}
}

func (w *Worker) fanout(ctx context.Context, change DeviceChange) {
	w.subMu.RLock()
	subs := make([]Subscriber, len(w.subscribers))
	copy(subs, w.subscribers)
	w.subMu.RUnlock()

	for _, s := range subs {
		w.notify(ctx, s, change)
	}
}

// notify calls one subscriber, isolating panics.
func (w *Worker) notify(ctx context.Context, s Subscriber, change DeviceChange) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("subscriber panicked", "subscriber", s.Name(), "idx", change.Device.Idx, "panic", r)
		}
	}()
	if err := s.DeviceChanged(ctx, change); err != nil {
		w.logger.Warn("subscriber failed", "subscriber", s.Name(), "idx", change.Device.Idx, "error", err)
	}
}

func (w *Worker) pruneLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		w.prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) prune(ctx context.Context) {
	cutoff := w.now().Add(-w.opts.HistoryRetention)
	n, err := w.history.Prune(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("pruning history failed", "error", err)
		}
		return
	}
	if n > 0 {
		w.logger.Info("history pruned", "samples", n, "cutoff", cutoff)
	}
}

// Stats returns the dispatch counters.
func (w *Worker) Stats() Stats {
	s := Stats{
		Processed:     w.processed.Load(),
		Dropped:       w.dropped.Load(),
		Failed:        w.failed.Load(),
		Commands:      w.commands.Load(),
		QueueDepth:    len(w.queue),
		QueueCapacity: cap(w.queue),
	}
	if ns := w.lastMessage.Load(); ns != 0 {
		s.LastMessage = time.Unix(0, ns)
	}
	return s
}
