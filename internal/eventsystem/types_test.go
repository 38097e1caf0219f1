package eventsystem

import (
	"testing"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
)

func TestCondition_Match(t *testing.T) {
	d := &device.Device{NValue: 1, SValue: "21.5;60"}

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"nil matches", nil, true},
		{"nvalue equal", &Condition{Op: OpEqual, Value: 1}, true},
		{"nvalue not equal", &Condition{Op: OpNotEqual, Value: 1}, false},
		{"field greater", &Condition{Field: intPtr(0), Op: OpGreater, Value: 21}, true},
		{"field less equal", &Condition{Field: intPtr(1), Op: OpLessEqual, Value: 60}, true},
		{"field less", &Condition{Field: intPtr(1), Op: OpLess, Value: 60}, false},
		{"missing field", &Condition{Field: intPtr(5), Op: OpGreaterEqual, Value: 0}, false},
		{"unknown operator", &Condition{Op: "~", Value: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Match(d); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRule_DueAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 7, 30, 20, 0, time.Local)

	daily := &Rule{Trigger: Trigger{Type: TriggerTime, At: "07:30"}}
	if !daily.dueAt(at) {
		t.Error("daily rule not due at 07:30")
	}
	if daily.dueAt(at.Add(time.Minute)) {
		t.Error("daily rule due at 07:31")
	}
	fired := at.Add(-10 * time.Second)
	daily.LastFired = &fired
	if daily.dueAt(at) {
		t.Error("daily rule due twice in the same minute")
	}

	interval := &Rule{Trigger: Trigger{Type: TriggerTime, IntervalMin: 5}}
	if !interval.dueAt(at) {
		t.Error("interval rule that never fired is not due")
	}
	last := at.Add(-4*time.Minute - 59*time.Second)
	interval.LastFired = &last
	if !interval.dueAt(at) {
		t.Error("interval rule not due five minute marks later")
	}
	last = at.Add(-3 * time.Minute)
	interval.LastFired = &last
	if interval.dueAt(at) {
		t.Error("interval rule due after three minutes")
	}

	dev := &Rule{Trigger: Trigger{Type: TriggerDevice, DeviceIdx: 1}}
	if dev.dueAt(at) {
		t.Error("device rule due on the clock")
	}
}

func TestRule_CoolingDown(t *testing.T) {
	now := time.Now()
	r := &Rule{CooldownS: 60}
	if r.coolingDown(now) {
		t.Error("rule that never fired is cooling down")
	}
	last := now.Add(-30 * time.Second)
	r.LastFired = &last
	if !r.coolingDown(now) {
		t.Error("rule fired 30s ago is not cooling down")
	}
	last = now.Add(-61 * time.Second)
	if r.coolingDown(now) {
		t.Error("rule fired 61s ago is cooling down")
	}
}

func TestRule_DeepCopy(t *testing.T) {
	sp := 21.0
	desc := "heating"
	r := &Rule{
		Description: &desc,
		Trigger:     Trigger{Type: TriggerDevice, DeviceIdx: 1, Condition: &Condition{Field: intPtr(0), Op: OpLess, Value: 18}},
		Actions:     []Action{{Type: ActionDevice, DeviceIdx: 2, Setpoint: &sp}},
	}
	cp := r.DeepCopy()
	*cp.Description = "changed"
	*cp.Trigger.Condition.Field = 3
	*cp.Actions[0].Setpoint = 5

	if *r.Description != "heating" || *r.Trigger.Condition.Field != 0 || *r.Actions[0].Setpoint != 21 {
		t.Errorf("DeepCopy shares state with the original: %+v", r)
	}
	if (*Rule)(nil).DeepCopy() != nil {
		t.Error("DeepCopy(nil) != nil")
	}
}
