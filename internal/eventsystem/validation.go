package eventsystem

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxDescriptionLen = 500
	maxActions        = 50
	maxDelayMS        = 600000 // 10 minutes
	maxCooldownS      = 86400
	maxIntervalMin    = 10080 // 1 week
	maxSubjectLength  = 200
)

// Switch commands accepted by device actions.
var validCommands = map[string]struct{}{
	"On":        {},
	"Off":       {},
	"Toggle":    {},
	"Set Level": {},
}

// Pre-computed validation set for O(1) operator lookups.
var validOperators map[Operator]struct{}

func init() {
	validOperators = make(map[Operator]struct{}, len(AllOperators()))
	for _, op := range AllOperators() {
		validOperators[op] = struct{}{}
	}
}

// ValidateRule performs comprehensive validation on a rule.
// Returns an error describing the first validation failure found.
func ValidateRule(r *Rule) error {
	if r == nil {
		return ErrInvalidRule
	}
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if r.Description != nil && len(*r.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRule, maxDescriptionLen)
	}
	if r.CooldownS < 0 || r.CooldownS > maxCooldownS {
		return fmt.Errorf("%w: cooldown_s must be 0-%d", ErrInvalidRule, maxCooldownS)
	}
	if err := ValidateTrigger(r.Trigger); err != nil {
		return err
	}

	if len(r.Actions) == 0 {
		return ErrNoActions
	}
	if len(r.Actions) > maxActions {
		return fmt.Errorf("%w: exceeds maximum of %d actions", ErrInvalidAction, maxActions)
	}
	for i, a := range r.Actions {
		if err := ValidateAction(a); err != nil {
			return fmt.Errorf("action[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateName checks if a rule name is valid.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateTrigger checks a trigger definition.
func ValidateTrigger(t Trigger) error {
	switch t.Type {
	case TriggerDevice:
		if t.DeviceIdx <= 0 {
			return fmt.Errorf("%w: device_idx is required", ErrInvalidTrigger)
		}
		if c := t.Condition; c != nil {
			if _, ok := validOperators[c.Op]; !ok {
				return fmt.Errorf("%w: invalid operator %q", ErrInvalidTrigger, c.Op)
			}
			if c.Field != nil && *c.Field < 0 {
				return fmt.Errorf("%w: field must not be negative", ErrInvalidTrigger)
			}
		}
		return nil

	case TriggerTime:
		switch {
		case t.At != "" && t.IntervalMin != 0:
			return fmt.Errorf("%w: at and interval_min are exclusive", ErrInvalidTrigger)
		case t.At != "":
			if _, err := time.Parse("15:04", t.At); err != nil || len(t.At) != len("15:04") {
				return fmt.Errorf("%w: at must be HH:MM", ErrInvalidTrigger)
			}
		case t.IntervalMin < 1 || t.IntervalMin > maxIntervalMin:
			return fmt.Errorf("%w: interval_min must be 1-%d", ErrInvalidTrigger, maxIntervalMin)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTrigger, t.Type)
	}
}

// ValidateAction checks if a rule action is valid.
func ValidateAction(a Action) error {
	switch a.Type {
	case ActionDevice:
		if a.DeviceIdx <= 0 {
			return fmt.Errorf("%w: device_idx is required", ErrInvalidAction)
		}
		if a.Setpoint != nil {
			if a.Command != "" {
				return fmt.Errorf("%w: command and setpoint are exclusive", ErrInvalidAction)
			}
			return nil
		}
		if _, ok := validCommands[a.Command]; !ok {
			return fmt.Errorf("%w: invalid command %q", ErrInvalidAction, a.Command)
		}
		if a.Level < 0 || a.Level > 100 {
			return fmt.Errorf("%w: level must be 0-100", ErrInvalidAction)
		}

	case ActionNotify:
		if strings.TrimSpace(a.Subject) == "" {
			return fmt.Errorf("%w: subject is required", ErrInvalidAction)
		}
		if len(a.Subject) > maxSubjectLength {
			return fmt.Errorf("%w: subject exceeds %d characters", ErrInvalidAction, maxSubjectLength)
		}

	case ActionMQTT:
		if a.Topic == "" || strings.ContainsAny(a.Topic, "+#") {
			return fmt.Errorf("%w: topic must be set and free of wildcards", ErrInvalidAction)
		}

	case ActionDelay:
		if a.DelayMS <= 0 || a.DelayMS > maxDelayMS {
			return fmt.Errorf("%w: delay_ms must be 1-%d", ErrInvalidAction, maxDelayMS)
		}

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
	return nil
}

// GenerateID creates a new UUID for a rule or execution.
func GenerateID() string {
	return uuid.New().String()
}
