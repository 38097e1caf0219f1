package eventsystem

import (
	"fmt"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
)

// Rule reacts to a trigger by running its actions in order.
type Rule struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Enabled     bool    `json:"enabled"`

	Trigger Trigger  `json:"trigger"`
	Actions []Action `json:"actions"`

	// CooldownS suppresses automatic firing for this many seconds after the
	// rule last fired. Manual triggers ignore it.
	CooldownS int `json:"cooldown_s"`

	LastFired *time.Time `json:"last_fired,omitempty"`
	FireCount int        `json:"fire_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerType selects what starts a rule.
type TriggerType string

const (
	TriggerDevice TriggerType = "device"
	TriggerTime   TriggerType = "time"
)

// Trigger starts a rule.
//
// A device trigger fires when DeviceIdx changes and its Condition goes from
// not matching to matching. Without a Condition every change fires.
//
// A time trigger fires daily at At ("HH:MM", local time) or every
// IntervalMin minutes.
type Trigger struct {
	Type TriggerType `json:"type"`

	DeviceIdx int64      `json:"device_idx,omitempty"`
	Condition *Condition `json:"condition,omitempty"`

	At          string `json:"at,omitempty"`
	IntervalMin int    `json:"interval_min,omitempty"`
}

// Operator compares a device value against a constant.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
)

// AllOperators returns all valid comparison operators.
func AllOperators() []Operator {
	return []Operator{OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual}
}

// Condition compares the nvalue, or one numeric svalue field, of a device.
type Condition struct {
	// Field is the svalue field index. Nil compares the nvalue.
	Field *int     `json:"field,omitempty"`
	Op    Operator `json:"op"`
	Value float64  `json:"value"`
}

// Match evaluates the condition against d. A field that is missing or not
// numeric never matches.
func (c *Condition) Match(d *device.Device) bool {
	if c == nil {
		return true
	}
	var v float64
	if c.Field == nil {
		v = float64(d.NValue)
	} else {
		f, err := d.Field(*c.Field)
		if err != nil {
			return false
		}
		v = f
	}
	return compare(v, c.Op, c.Value)
}

func compare(v float64, op Operator, ref float64) bool {
	switch op {
	case OpEqual:
		return v == ref
	case OpNotEqual:
		return v != ref
	case OpGreater:
		return v > ref
	case OpGreaterEqual:
		return v >= ref
	case OpLess:
		return v < ref
	case OpLessEqual:
		return v <= ref
	default:
		return false
	}
}

// ActionType selects what an action does.
type ActionType string

const (
	ActionDevice ActionType = "device"
	ActionNotify ActionType = "notify"
	ActionMQTT   ActionType = "mqtt"
	ActionDelay  ActionType = "delay"
)

// Action is one step of a rule.
type Action struct {
	Type ActionType `json:"type"`

	// device
	DeviceIdx int64    `json:"device_idx,omitempty"`
	Command   string   `json:"command,omitempty"` // On, Off, Toggle, Set Level
	Level     int      `json:"level,omitempty"`
	Setpoint  *float64 `json:"setpoint,omitempty"`

	// notify
	Subject  string `json:"subject,omitempty"`
	Message  string `json:"message,omitempty"`
	Priority int    `json:"priority,omitempty"`

	// mqtt
	Topic   string `json:"topic,omitempty"`
	Payload string `json:"payload,omitempty"`

	// delay
	DelayMS int `json:"delay_ms,omitempty"`
}

// String renders the action for execution error messages.
func (a Action) String() string {
	switch a.Type {
	case ActionDevice:
		if a.Setpoint != nil {
			return fmt.Sprintf("device %d setpoint %g", a.DeviceIdx, *a.Setpoint)
		}
		return fmt.Sprintf("device %d %s", a.DeviceIdx, a.Command)
	case ActionNotify:
		return "notify " + a.Subject
	case ActionMQTT:
		return "mqtt " + a.Topic
	case ActionDelay:
		return fmt.Sprintf("delay %dms", a.DelayMS)
	default:
		return string(a.Type)
	}
}

// TriggerSource records what started an execution.
type TriggerSource string

const (
	SourceDevice TriggerSource = "device"
	SourceTime   TriggerSource = "time"
	SourceManual TriggerSource = "manual"
)

// Execution tracks a single run of a rule.
type Execution struct {
	ID            string          `json:"id"`
	RuleID        string          `json:"rule_id"`
	TriggerSource TriggerSource   `json:"trigger_source"`
	TriggerDetail *string         `json:"trigger_detail,omitempty"`
	Status        ExecutionStatus `json:"status"`

	ActionsTotal     int `json:"actions_total"`
	ActionsCompleted int `json:"actions_completed"`
	ActionsFailed    int `json:"actions_failed"`

	ErrorMessage *string `json:"error_message,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  *int       `json:"duration_ms,omitempty"`
}

// ExecutionStatus represents the state of a rule execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusPartial   ExecutionStatus = "partial" // Some actions failed
	StatusFailed    ExecutionStatus = "failed"  // No action succeeded
)

// DeepCopy creates a complete independent copy of the Rule.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}

	cpy := *r
	cpy.Description = cloneStringPtr(r.Description)
	if r.LastFired != nil {
		t := *r.LastFired
		cpy.LastFired = &t
	}
	if r.Trigger.Condition != nil {
		c := *r.Trigger.Condition
		if c.Field != nil {
			f := *c.Field
			c.Field = &f
		}
		cpy.Trigger.Condition = &c
	}
	if r.Actions != nil {
		cpy.Actions = make([]Action, len(r.Actions))
		for i, a := range r.Actions {
			cpy.Actions[i] = a
			if a.Setpoint != nil {
				v := *a.Setpoint
				cpy.Actions[i].Setpoint = &v
			}
		}
	}
	return &cpy
}

// coolingDown reports whether the rule fired less than CooldownS ago.
func (r *Rule) coolingDown(now time.Time) bool {
	if r.CooldownS <= 0 || r.LastFired == nil {
		return false
	}
	return now.Sub(*r.LastFired) < time.Duration(r.CooldownS)*time.Second
}

// dueAt reports whether a time trigger fires in the minute containing now.
func (r *Rule) dueAt(now time.Time) bool {
	t := r.Trigger
	if t.Type != TriggerTime {
		return false
	}
	minute := now.Truncate(time.Minute)
	if r.LastFired != nil && !r.LastFired.Before(minute) {
		return false
	}
	if t.At != "" {
		return now.Format("15:04") == t.At
	}
	if t.IntervalMin > 0 {
		return r.LastFired == nil || minute.Sub(r.LastFired.Truncate(time.Minute)) >= time.Duration(t.IntervalMin)*time.Minute
	}
	return false
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
