package eventsystem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// maxRuleExecutionTime is the hard limit for a single rule run. Rules whose
// delays add up to more than this are cut short and end partial or failed.
const maxRuleExecutionTime = 15 * time.Minute

// Commander sends a command to the hardware owning a device.
type Commander interface {
	SendCommand(ctx context.Context, idx int64, cmd rx.Command) error
}

// Notifier delivers a notification to the configured transports.
type Notifier interface {
	Notify(ctx context.Context, subject, message string, priority int) error
}

// MQTTClient is the interface for publishing rule payloads.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// Targets are the systems rule actions reach. Nil members make the
// matching action type fail with ErrNotWired.
type Targets struct {
	Commander Commander
	Notifier  Notifier
	MQTT      MQTTClient
	Hub       WSHub
}

// Engine evaluates rules against device changes and the clock and runs
// their actions.
//
// It is a mainworker subscriber: DeviceChanged only decides which rules
// fire; the actions run on their own goroutine so the dispatch path never
// waits for a delay or a slow transport.
type Engine struct {
	registry *Registry
	repo     Repository
	targets  Targets
	logger   Logger

	timeout time.Duration
	tick    time.Duration
	now     func() time.Time

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewEngine creates a rule engine.
func NewEngine(registry *Registry, repo Repository, targets Targets, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		registry: registry,
		repo:     repo,
		targets:  targets,
		logger:   logger,
		timeout:  maxRuleExecutionTime,
		tick:     time.Minute,
		now:      time.Now,
		baseCtx:  context.Background(),
	}
}

// Name implements mainworker.Subscriber.
func (e *Engine) Name() string { return "eventsystem" }

// Start begins evaluating time triggers once a minute.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return errors.New("eventsystem: already started")
	}
	if e.stopped {
		return ErrEngineStopped
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.baseCtx = runCtx
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.tick)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.evaluateTime(e.now())
			}
		}
	}()

	e.logger.Info("event system started", "rules", e.registry.Count())
	return nil
}

// Stop cancels running executions and waits for them to finish. Rules
// no longer fire once Stop has been called.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.stopped = true
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	return nil
}

// Wait blocks until every execution started so far has finished. It must
// not be called while the engine is started.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// DeviceChanged implements mainworker.Subscriber. A rule fires when its
// condition matches the new state and did not match the previous one.
func (e *Engine) DeviceChanged(_ context.Context, change mainworker.DeviceChange) error {
	now := e.now()
	for _, rule := range e.registry.DeviceRules(change.Device.Idx) {
		cond := rule.Trigger.Condition
		if !cond.Match(&change.Device) {
			continue
		}
		if cond != nil && change.Previous != nil && cond.Match(change.Previous) {
			continue
		}
		if rule.coolingDown(now) {
			e.logger.Debug("rule cooling down", "rule_id", rule.ID, "name", rule.Name)
			continue
		}

		detail := fmt.Sprintf("idx=%d nvalue=%d svalue=%s", change.Device.Idx, change.Device.NValue, change.Device.SValue)
		if _, err := e.fire(&rule, SourceDevice, detail, now); err != nil {
			e.logger.Debug("rule not fired", "rule_id", rule.ID, "error", err)
			return nil
		}
	}
	return nil
}

func (e *Engine) evaluateTime(now time.Time) {
	for _, rule := range e.registry.TimeRules() {
		if !rule.dueAt(now) || rule.coolingDown(now) {
			continue
		}
		if _, err := e.fire(&rule, SourceTime, now.Format("15:04"), now); err != nil {
			e.logger.Debug("rule not fired", "rule_id", rule.ID, "error", err)
			return
		}
	}
}

// Trigger runs a rule now, ignoring its trigger and cooldown. It returns
// the execution ID; the actions run in the background.
func (e *Engine) Trigger(ctx context.Context, ruleID string) (string, error) {
	rule, err := e.registry.GetRule(ctx, ruleID)
	if err != nil {
		return "", err
	}
	if !rule.Enabled {
		return "", ErrRuleDisabled
	}
	return e.fire(rule, SourceManual, "", e.now())
}

// fire records the firing and starts the execution goroutine.
func (e *Engine) fire(rule *Rule, source TriggerSource, detail string, now time.Time) (string, error) {
	// The execution is counted in wg while mu is held so Stop's Wait
	// cannot miss it.
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return "", ErrEngineStopped
	}
	ctx := e.baseCtx
	e.wg.Add(1)
	e.mu.Unlock()

	if err := e.registry.MarkFired(ctx, rule.ID, now); err != nil {
		e.logger.Error("failed to mark rule fired", "rule_id", rule.ID, "error", err)
	}

	exec := &Execution{
		ID:            GenerateID(),
		RuleID:        rule.ID,
		TriggerSource: source,
		Status:        StatusPending,
		ActionsTotal:  len(rule.Actions),
		StartedAt:     now.UTC(),
	}
	if detail != "" {
		exec.TriggerDetail = &detail
	}
	if err := e.repo.CreateExecution(ctx, exec); err != nil {
		e.logger.Error("failed to create execution record", "rule_id", rule.ID, "error", err)
	}

	go func() {
		defer e.wg.Done()
		e.execute(ctx, rule, exec)
	}()
	return exec.ID, nil
}

func (e *Engine) execute(parent context.Context, rule *Rule, exec *Execution) {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	started := time.Now()
	exec.Status = StatusRunning
	if err := e.repo.UpdateExecution(ctx, exec); err != nil {
		e.logger.Error("failed to update execution record", "execution_id", exec.ID, "error", err)
	}

	e.logger.Info("rule fired",
		"rule_id", rule.ID,
		"name", rule.Name,
		"source", exec.TriggerSource,
		"execution_id", exec.ID,
	)

	var errs []string
	for i, action := range rule.Actions {
		if ctx.Err() != nil {
			remaining := len(rule.Actions) - i
			exec.ActionsFailed += remaining
			errs = append(errs, fmt.Sprintf("%d actions not run: %v", remaining, ctx.Err()))
			break
		}
		if err := e.executeAction(ctx, rule, action); err != nil {
			exec.ActionsFailed++
			errs = append(errs, fmt.Sprintf("%s: %v", action, err))
			e.logger.Warn("rule action failed", "rule_id", rule.ID, "action", action.String(), "error", err)
			continue
		}
		exec.ActionsCompleted++
	}

	completedAt := time.Now().UTC()
	duration := int(time.Since(started).Milliseconds())
	exec.CompletedAt = &completedAt
	exec.DurationMS = &duration
	switch {
	case exec.ActionsFailed == 0:
		exec.Status = StatusCompleted
	case exec.ActionsCompleted == 0:
		exec.Status = StatusFailed
	default:
		exec.Status = StatusPartial
	}
	if len(errs) > 0 {
		msg := strings.Join(errs, "; ")
		exec.ErrorMessage = &msg
	}

	// The run context may be cancelled by now; the record is still written.
	if err := e.repo.UpdateExecution(context.WithoutCancel(ctx), exec); err != nil {
		e.logger.Error("failed to update execution record", "execution_id", exec.ID, "error", err)
	}

	e.logger.Info("rule execution complete",
		"rule_id", rule.ID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"completed", exec.ActionsCompleted,
		"failed", exec.ActionsFailed,
		"duration_ms", duration,
	)

	if e.targets.Hub != nil {
		e.targets.Hub.Broadcast("rule.executed", map[string]any{
			"rule_id":        rule.ID,
			"rule_name":      rule.Name,
			"execution_id":   exec.ID,
			"trigger_source": string(exec.TriggerSource),
			"status":         string(exec.Status),
			"duration_ms":    duration,
		})
	}
}

func (e *Engine) executeAction(ctx context.Context, rule *Rule, a Action) error {
	switch a.Type {
	case ActionDevice:
		if e.targets.Commander == nil {
			return ErrNotWired
		}
		cmd := rx.Command{Kind: rx.CommandSwitch, Level: a.Level}
		if a.Setpoint != nil {
			cmd = rx.Command{Kind: rx.CommandSetpoint, Setpoint: *a.Setpoint}
		} else {
			action, err := rx.ParseSwitchAction(a.Command)
			if err != nil {
				return err
			}
			cmd.Action = action
		}
		return e.targets.Commander.SendCommand(ctx, a.DeviceIdx, cmd)

	case ActionNotify:
		if e.targets.Notifier == nil {
			return ErrNotWired
		}
		message := a.Message
		if message == "" {
			message = rule.Name
		}
		return e.targets.Notifier.Notify(ctx, a.Subject, message, a.Priority)

	case ActionMQTT:
		if e.targets.MQTT == nil {
			return ErrNotWired
		}
		return e.targets.MQTT.Publish(a.Topic, []byte(a.Payload), 1, false)

	case ActionDelay:
		timer := time.NewTimer(time.Duration(a.DelayMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("action delayed: %w", ctx.Err())
		}

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
}
