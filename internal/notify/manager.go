package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
)

const (
	// DefaultKeepLast is how many notifications are kept when unset.
	DefaultKeepLast = 200

	// backgroundTimeout bounds sends started by device or hardware events.
	backgroundTimeout = time.Minute
)

// Notification sources.
const (
	SourceRule      = "rule"
	SourceThreshold = "threshold"
	SourceHardware  = "hardware"
	SourceAPI       = "api"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Transports builds the enabled transports of a configuration.
func Transports(cfg config.NotificationsConfig) []Notifier {
	var out []Notifier
	if cfg.Pushover.Enabled {
		out = append(out, NewPushover(cfg.Pushover))
	}
	if cfg.Webhook.Enabled {
		out = append(out, NewWebhook(cfg.Webhook))
	}
	return out
}

// Manager fans notifications out to every transport, throttles repeated
// subjects and keeps a short history.
//
// It also watches device changes for thresholds and hardware status for
// watchdog timeouts. Those sends run in the background so the dispatch
// path never waits for a provider.
type Manager struct {
	store       Store
	transports  []Notifier
	minInterval time.Duration
	keep        int
	logger      Logger
	now         func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time

	thMu       sync.RWMutex
	thresholds map[int64][]Threshold

	wg sync.WaitGroup
}

// NewManager creates a notification manager.
func NewManager(store Store, transports []Notifier, cfg config.NotificationsConfig) *Manager {
	keep := cfg.KeepLast
	if keep <= 0 {
		keep = DefaultKeepLast
	}
	return &Manager{
		store:       store,
		transports:  transports,
		minInterval: time.Duration(cfg.MinInterval) * time.Second,
		keep:        keep,
		logger:      noopLogger{},
		now:         time.Now,
		lastSent:    make(map[string]time.Time),
		thresholds:  make(map[int64][]Threshold),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Name implements mainworker.Subscriber.
func (m *Manager) Name() string { return "notify" }

// Send delivers msg through every transport. It fails with ErrThrottled
// when the subject was sent within the minimum interval and with
// ErrSendFailed when no transport succeeded.
func (m *Manager) Send(ctx context.Context, msg Message) error {
	if len(m.transports) == 0 {
		return ErrNoTransports
	}

	now := m.now()
	m.mu.Lock()
	if last, ok := m.lastSent[msg.Subject]; ok && m.minInterval > 0 && now.Sub(last) < m.minInterval {
		m.mu.Unlock()
		m.logger.Debug("notification throttled", "subject", msg.Subject)
		return ErrThrottled
	}
	m.lastSent[msg.Subject] = now
	m.mu.Unlock()

	rec := &Record{
		Subject:  msg.Subject,
		Message:  msg.Text,
		Priority: msg.Priority,
		Source:   msg.Source,
		SentAt:   now.UTC(),
	}
	var errs []error
	for _, t := range m.transports {
		if err := t.Send(ctx, msg); err != nil {
			m.logger.Warn("notification transport failed", "transport", t.Name(), "subject", msg.Subject, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		rec.Transports = append(rec.Transports, t.Name())
	}
	joined := errors.Join(errs...)
	if joined != nil {
		text := joined.Error()
		rec.Error = &text
	}

	m.record(ctx, rec)

	if len(rec.Transports) == 0 {
		return fmt.Errorf("%w: %w", ErrSendFailed, joined)
	}
	m.logger.Info("notification sent", "subject", msg.Subject, "transports", rec.Transports)
	return nil
}

func (m *Manager) record(ctx context.Context, rec *Record) {
	ctx = context.WithoutCancel(ctx)
	if err := m.store.Log(ctx, rec); err != nil {
		m.logger.Error("failed to log notification", "error", err)
		return
	}
	if _, err := m.store.Trim(ctx, m.keep); err != nil {
		m.logger.Error("failed to trim notifications", "error", err)
	}
}

// Notify sends a rule notification. A throttled subject is not an error.
func (m *Manager) Notify(ctx context.Context, subject, message string, priority int) error {
	err := m.Send(ctx, Message{Subject: subject, Text: message, Priority: priority, Source: SourceRule})
	if errors.Is(err, ErrThrottled) {
		return nil
	}
	return err
}

// Recent returns the newest notifications first.
func (m *Manager) Recent(ctx context.Context, limit int) ([]Record, error) {
	return m.store.Recent(ctx, limit)
}

// LoadThresholds reads every threshold into memory. This should be called
// on application startup.
func (m *Manager) LoadThresholds(ctx context.Context) error {
	list, err := m.store.ListThresholds(ctx)
	if err != nil {
		return fmt.Errorf("loading thresholds: %w", err)
	}

	byDevice := make(map[int64][]Threshold)
	for _, t := range list {
		byDevice[t.DeviceIdx] = append(byDevice[t.DeviceIdx], t)
	}

	m.thMu.Lock()
	m.thresholds = byDevice
	m.thMu.Unlock()

	m.logger.Info("notification thresholds loaded", "count", len(list))
	return nil
}

// AddThreshold validates and stores a threshold.
func (m *Manager) AddThreshold(ctx context.Context, t *Threshold) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := m.store.CreateThreshold(ctx, t); err != nil {
		return err
	}

	m.thMu.Lock()
	m.thresholds[t.DeviceIdx] = append(m.thresholds[t.DeviceIdx], *t)
	m.thMu.Unlock()
	return nil
}

// RemoveThreshold deletes a threshold.
func (m *Manager) RemoveThreshold(ctx context.Context, id int64) error {
	if err := m.store.DeleteThreshold(ctx, id); err != nil {
		return err
	}

	m.thMu.Lock()
	defer m.thMu.Unlock()
	for idx, list := range m.thresholds {
		kept := list[:0:0]
		for _, t := range list {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		m.thresholds[idx] = kept
	}
	return nil
}

// Thresholds returns every threshold ordered by device.
func (m *Manager) Thresholds() []Threshold {
	m.thMu.RLock()
	defer m.thMu.RUnlock()

	var out []Threshold
	for _, list := range m.thresholds {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceIdx != out[j].DeviceIdx {
			return out[i].DeviceIdx < out[j].DeviceIdx
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DeviceChanged implements mainworker.Subscriber. A threshold notifies when
// the value crosses it, or on every matching update when SendAlways is set.
func (m *Manager) DeviceChanged(ctx context.Context, change mainworker.DeviceChange) error {
	m.thMu.RLock()
	list := append([]Threshold(nil), m.thresholds[change.Device.Idx]...)
	m.thMu.RUnlock()

	for _, t := range list {
		v, ok := thresholdValue(&change.Device, t.Field)
		if !ok || !t.crossed(v) {
			continue
		}
		if !t.SendAlways && change.Previous != nil {
			if pv, ok := thresholdValue(change.Previous, t.Field); ok && t.crossed(pv) {
				continue
			}
		}

		limit := strconv.FormatFloat(t.Value, 'f', -1, 64)
		msg := Message{
			Subject:  fmt.Sprintf("%s %s %s", change.Device.Name, t.Op, limit),
			Text:     t.Message,
			Priority: t.Priority,
			Source:   SourceThreshold,
		}
		if msg.Text == "" {
			msg.Text = fmt.Sprintf("%s is %s (limit %s %s)", change.Device.Name, strconv.FormatFloat(v, 'f', -1, 64), t.Op, limit)
		}
		m.sendAsync(ctx, msg)
	}
	return nil
}

// HardwareStatusChanged implements hardware.Listener and reports watchdog
// timeouts.
func (m *Manager) HardwareStatusChanged(info hardware.Info) {
	if info.Status != hardware.StatusTimeout {
		return
	}
	m.sendAsync(context.Background(), Message{
		Subject:  "Hardware timeout: " + info.Name,
		Text:     fmt.Sprintf("%s (%s) stopped reporting, last heartbeat %s", info.Name, info.Type, info.LastHeartbeat.Format(time.RFC3339)),
		Priority: 1,
		Source:   SourceHardware,
	})
}

func (m *Manager) sendAsync(ctx context.Context, msg Message) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		if err := m.Send(sendCtx, msg); err != nil && !errors.Is(err, ErrThrottled) {
			m.logger.Warn("notification failed", "subject", msg.Subject, "error", err)
		}
	}()
}

// Wait blocks until background sends have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (t Threshold) crossed(v float64) bool {
	if t.Op == Above {
		return v > t.Value
	}
	return v < t.Value
}

func thresholdValue(d *device.Device, field int) (float64, bool) {
	if field < 0 {
		return float64(d.NValue), true
	}
	v, err := d.Field(field)
	return v, err == nil
}
