package eventsystem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type mockCommander struct {
	mu   sync.Mutex
	sent map[int64][]rx.Command
	fail bool
}

func (m *mockCommander) SendCommand(_ context.Context, idx int64, cmd rx.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("hardware offline")
	}
	if m.sent == nil {
		m.sent = make(map[int64][]rx.Command)
	}
	m.sent[idx] = append(m.sent[idx], cmd)
	return nil
}

func (m *mockCommander) commands(idx int64) []rx.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rx.Command(nil), m.sent[idx]...)
}

type mockNotifier struct {
	mu       sync.Mutex
	subjects []string
	messages []string
}

func (m *mockNotifier) Notify(_ context.Context, subject, message string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	m.messages = append(m.messages, message)
	return nil
}

type mockMQTT struct {
	mu     sync.Mutex
	topics []string
}

func (m *mockMQTT) Publish(topic string, _ []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	return nil
}

func (m *mockMQTT) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics)
}

type mockHub struct {
	mu     sync.Mutex
	events []map[string]any
}

func (m *mockHub) Broadcast(channel string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channel == "rule.executed" {
		m.events = append(m.events, payload.(map[string]any))
	}
}

type engineFixture struct {
	engine *Engine
	reg    *Registry
	repo   *SQLiteRepository
	cmd    *mockCommander
	notify *mockNotifier
	mqtt   *mockMQTT
	hub    *mockHub
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	reg, repo := newTestRegistry(t)
	f := &engineFixture{
		reg:    reg,
		repo:   repo,
		cmd:    &mockCommander{},
		notify: &mockNotifier{},
		mqtt:   &mockMQTT{},
		hub:    &mockHub{},
	}
	f.engine = NewEngine(reg, repo, Targets{
		Commander: f.cmd,
		Notifier:  f.notify,
		MQTT:      f.mqtt,
		Hub:       f.hub,
	}, nil)
	return f
}

func (f *engineFixture) create(t *testing.T, r *Rule) {
	t.Helper()
	if err := f.reg.CreateRule(context.Background(), r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
}

func (f *engineFixture) executions(t *testing.T, ruleID string) []Execution {
	t.Helper()
	execs, err := f.repo.ListExecutions(context.Background(), ruleID, 100)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	return execs
}

func change(idx int64, nvalue int, svalue string, prev *device.Device) mainworker.DeviceChange {
	return mainworker.DeviceChange{
		Device:   device.Device{Idx: idx, NValue: nvalue, SValue: svalue},
		Previous: prev,
		Source:   mainworker.SourceHardware,
		At:       time.Now(),
	}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestEngine_DeviceTriggerIsEdgeTriggered(t *testing.T) {
	f := newEngineFixture(t)
	rule := deviceRule("Too cold", 5, &Condition{Field: intPtr(0), Op: OpLess, Value: 18},
		Action{Type: ActionDevice, DeviceIdx: 9, Command: "On"})
	f.create(t, rule)
	ctx := context.Background()

	warm := &device.Device{Idx: 5, SValue: "19.0"}
	cold := &device.Device{Idx: 5, SValue: "17.5"}

	f.engine.DeviceChanged(ctx, change(5, 0, "17.5", warm)) //nolint:errcheck // Always nil
	f.engine.DeviceChanged(ctx, change(5, 0, "17.0", cold)) //nolint:errcheck // Already matching
	f.engine.DeviceChanged(ctx, change(5, 0, "20.0", cold)) //nolint:errcheck // Not matching
	f.engine.DeviceChanged(ctx, change(6, 0, "10.0", nil))  //nolint:errcheck // Other device
	f.engine.Wait()

	cmds := f.cmd.commands(9)
	if len(cmds) != 1 {
		t.Fatalf("commands = %+v, want exactly one", cmds)
	}
	if cmds[0].Kind != rx.CommandSwitch || cmds[0].Action != rx.ActionOn {
		t.Errorf("command = %+v", cmds[0])
	}

	execs := f.executions(t, rule.ID)
	if len(execs) != 1 || execs[0].Status != StatusCompleted || execs[0].TriggerSource != SourceDevice {
		t.Errorf("executions = %+v", execs)
	}
	got, _ := f.reg.GetRule(ctx, rule.ID)
	if got.FireCount != 1 || got.LastFired == nil {
		t.Errorf("fire stats = %d %v", got.FireCount, got.LastFired)
	}
}

func TestEngine_NoConditionFiresOnEveryChange(t *testing.T) {
	f := newEngineFixture(t)
	f.create(t, deviceRule("Any change", 3, nil, mqttAction("seen", "1")))

	for range 3 {
		f.engine.DeviceChanged(context.Background(), change(3, 1, "", &device.Device{Idx: 3})) //nolint:errcheck // Always nil
	}
	f.engine.Wait()

	if f.mqtt.count() != 3 {
		t.Errorf("published %d times, want 3", f.mqtt.count())
	}
}

func TestEngine_Cooldown(t *testing.T) {
	f := newEngineFixture(t)
	rule := deviceRule("Doorbell", 2, &Condition{Op: OpEqual, Value: 1}, mqttAction("bell", "ring"))
	rule.CooldownS = 60
	f.create(t, rule)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return now }
	off := &device.Device{Idx: 2, NValue: 0}

	f.engine.DeviceChanged(context.Background(), change(2, 1, "", off)) //nolint:errcheck // Always nil
	now = now.Add(30 * time.Second)
	f.engine.DeviceChanged(context.Background(), change(2, 1, "", off)) //nolint:errcheck // Within cooldown
	now = now.Add(31 * time.Second)
	f.engine.DeviceChanged(context.Background(), change(2, 1, "", off)) //nolint:errcheck // Cooldown over
	f.engine.Wait()

	if f.mqtt.count() != 2 {
		t.Errorf("published %d times, want 2", f.mqtt.count())
	}
}

func TestEngine_TimeTriggers(t *testing.T) {
	f := newEngineFixture(t)
	daily := &Rule{Name: "Morning", Enabled: true, Trigger: Trigger{Type: TriggerTime, At: "07:00"},
		Actions: []Action{{Type: ActionNotify, Subject: "Good morning"}}}
	every := &Rule{Name: "Every 2", Enabled: true, Trigger: Trigger{Type: TriggerTime, IntervalMin: 2},
		Actions: []Action{mqttAction("tick", "1")}}
	f.create(t, daily)
	f.create(t, every)

	start := time.Date(2026, 3, 1, 6, 59, 5, 0, time.Local)
	for i := range 4 {
		f.engine.evaluateTime(start.Add(time.Duration(i) * time.Minute))
	}
	f.engine.Wait()

	f.notify.mu.Lock()
	subjects := append([]string(nil), f.notify.subjects...)
	messages := append([]string(nil), f.notify.messages...)
	f.notify.mu.Unlock()
	if len(subjects) != 1 || subjects[0] != "Good morning" || messages[0] != "Morning" {
		t.Errorf("notifications = %v / %v", subjects, messages)
	}
	// 06:59, 07:01
	if f.mqtt.count() != 2 {
		t.Errorf("interval rule fired %d times, want 2", f.mqtt.count())
	}
	if execs := f.executions(t, daily.ID); len(execs) != 1 || execs[0].TriggerSource != SourceTime {
		t.Errorf("daily executions = %+v", execs)
	}
}

func TestEngine_ManualTrigger(t *testing.T) {
	f := newEngineFixture(t)
	sp := 21.5
	rule := deviceRule("Heat up", 1, &Condition{Op: OpEqual, Value: 1},
		Action{Type: ActionDevice, DeviceIdx: 4, Setpoint: &sp})
	rule.CooldownS = 3600
	f.create(t, rule)
	ctx := context.Background()

	id, err := f.engine.Trigger(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	// Manual triggers ignore the cooldown.
	if _, err := f.engine.Trigger(ctx, rule.ID); err != nil {
		t.Fatalf("second Trigger: %v", err)
	}
	f.engine.Wait()

	cmds := f.cmd.commands(4)
	if len(cmds) != 2 || cmds[0].Kind != rx.CommandSetpoint || cmds[0].Setpoint != 21.5 {
		t.Errorf("commands = %+v", cmds)
	}
	exec, err := f.repo.GetExecution(ctx, id)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if exec.Status != StatusCompleted || exec.TriggerSource != SourceManual || exec.DurationMS == nil {
		t.Errorf("execution = %+v", exec)
	}

	if _, err := f.engine.Trigger(ctx, "missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Trigger missing error = %v", err)
	}
	rule.Enabled = false
	if err := f.reg.UpdateRule(ctx, rule); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if _, err := f.engine.Trigger(ctx, rule.ID); !errors.Is(err, ErrRuleDisabled) {
		t.Errorf("Trigger disabled error = %v", err)
	}
}

func TestEngine_PartialAndFailedExecutions(t *testing.T) {
	f := newEngineFixture(t)
	f.cmd.fail = true
	partial := deviceRule("Partial", 1, nil,
		Action{Type: ActionDevice, DeviceIdx: 2, Command: "Off"},
		mqttAction("ok", "1"))
	failed := deviceRule("Failed", 1, nil,
		Action{Type: ActionDevice, DeviceIdx: 2, Command: "Toggle"})
	f.create(t, partial)
	f.create(t, failed)

	f.engine.DeviceChanged(context.Background(), change(1, 1, "", nil)) //nolint:errcheck // Always nil
	f.engine.Wait()

	p := f.executions(t, partial.ID)
	if len(p) != 1 || p[0].Status != StatusPartial || p[0].ActionsFailed != 1 || p[0].ActionsCompleted != 1 || p[0].ErrorMessage == nil {
		t.Errorf("partial executions = %+v", p)
	}
	fl := f.executions(t, failed.ID)
	if len(fl) != 1 || fl[0].Status != StatusFailed {
		t.Errorf("failed executions = %+v", fl)
	}

	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	if len(f.hub.events) != 2 {
		t.Errorf("broadcast %d rule.executed events, want 2", len(f.hub.events))
	}
}

func TestEngine_TimeoutCutsDelays(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.timeout = 50 * time.Millisecond
	rule := deviceRule("Slow", 1, nil,
		mqttAction("before", "1"),
		Action{Type: ActionDelay, DelayMS: 60000},
		mqttAction("after", "1"))
	f.create(t, rule)

	f.engine.DeviceChanged(context.Background(), change(1, 1, "", nil)) //nolint:errcheck // Always nil
	f.engine.Wait()

	if f.mqtt.count() != 1 {
		t.Errorf("published %d times, want 1", f.mqtt.count())
	}
	execs := f.executions(t, rule.ID)
	if len(execs) != 1 || execs[0].Status != StatusPartial || execs[0].ActionsFailed != 2 {
		t.Errorf("executions = %+v", execs)
	}
}

func TestEngine_MissingTargets(t *testing.T) {
	reg, repo := newTestRegistry(t)
	engine := NewEngine(reg, repo, Targets{}, nil)
	rule := deviceRule("Unwired", 1, nil, mqttAction("x", "1"))
	if err := reg.CreateRule(context.Background(), rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	engine.DeviceChanged(context.Background(), change(1, 0, "", nil)) //nolint:errcheck // Always nil
	engine.Wait()

	execs, err := repo.ListExecutions(context.Background(), rule.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != StatusFailed {
		t.Errorf("executions = %+v", execs)
	}
}

func TestEngine_StartStop(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.tick = 10 * time.Millisecond
	f.create(t, &Rule{Name: "Often", Enabled: true, Trigger: Trigger{Type: TriggerTime, IntervalMin: 1},
		Actions: []Action{mqttAction("tick", "1")}})

	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.engine.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.mqtt.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := f.engine.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.mqtt.count() == 0 {
		t.Error("time rule never fired while started")
	}
	if f.engine.Name() != "eventsystem" {
		t.Errorf("Name() = %q", f.engine.Name())
	}
}

func TestEngine_NoFiringAfterStop(t *testing.T) {
	f := newEngineFixture(t)
	rule := deviceRule("Any change", 3, nil, mqttAction("seen", "1"))
	f.create(t, rule)
	ctx := context.Background()

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				f.engine.DeviceChanged(ctx, change(3, 1, "", nil)) //nolint:errcheck // Always nil
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	if err := f.engine.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	stopped := f.mqtt.count()
	wg.Wait()
	f.engine.Wait()

	if got := f.mqtt.count(); got != stopped {
		t.Errorf("published %d times after Stop returned, want %d", got, stopped)
	}
	if _, err := f.engine.Trigger(ctx, rule.ID); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Trigger after Stop error = %v, want ErrEngineStopped", err)
	}
	if err := f.engine.Start(ctx); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Start after Stop error = %v, want ErrEngineStopped", err)
	}
}
