package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
)

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

const writeTimeout = 5 * time.Second

// Recorder writes hub activity into a Repository.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Name implements mainworker.Subscriber.
func (r *Recorder) Name() string { return "audit" }

// DeviceChanged records commands and manual updates. Hardware readings are
// skipped.
func (r *Recorder) DeviceChanged(ctx context.Context, change mainworker.DeviceChange) error {
	var action string
	switch change.Source {
	case mainworker.SourceCommand:
		action = ActionCommand
	case mainworker.SourceManual:
		action = ActionUpdate
	default:
		return nil
	}

	d := change.Device
	return r.repo.Create(ctx, &Entry{
		Action:     action,
		EntityType: EntityDevice,
		EntityID:   strconv.FormatInt(d.Idx, 10),
		Source:     string(change.Source),
		Details: map[string]any{
			"name":   d.Name,
			"nvalue": d.NValue,
			"svalue": d.SValue,
		},
		CreatedAt: change.At,
	})
}

// HardwareStatusChanged implements hardware.Listener.
func (r *Recorder) HardwareStatusChanged(info hardware.Info) {
	details := map[string]any{
		"name":   info.Name,
		"type":   info.Type,
		"status": string(info.Status),
	}
	if info.Error != "" {
		details["error"] = info.Error
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	r.Record(ctx, &Entry{
		Action:     ActionStatus,
		EntityType: EntityHardware,
		EntityID:   strconv.Itoa(info.ID),
		Source:     "hardware",
		Details:    details,
	})
}

// Record stores an entry, logging instead of failing. API handlers use it
// for user actions.
func (r *Recorder) Record(ctx context.Context, e *Entry) {
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Warn("recording event failed", "action", e.Action, "entity_type", e.EntityType, "error", err)
	}
}

// List returns a page of entries.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}

// Prune deletes entries older than retention.
func (r *Recorder) Prune(ctx context.Context, retention time.Duration) {
	n, err := r.repo.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		r.logger.Warn("pruning event log failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("event log pruned", "deleted", n)
	}
}
