package eventsystem

import "errors"

// Domain errors for the eventsystem package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, eventsystem.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrRuleExists is returned when creating a rule whose ID or name is taken.
	ErrRuleExists = errors.New("rule: already exists")

	// ErrRuleDisabled is returned when triggering a disabled rule.
	ErrRuleDisabled = errors.New("rule: disabled")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidName is returned when a rule name is empty or too long.
	ErrInvalidName = errors.New("rule: invalid name")

	// ErrInvalidTrigger is returned when a trigger definition is invalid.
	ErrInvalidTrigger = errors.New("rule: invalid trigger")

	// ErrInvalidAction is returned when a rule action is invalid.
	ErrInvalidAction = errors.New("rule: invalid action")

	// ErrNoActions is returned when a rule has no actions defined.
	ErrNoActions = errors.New("rule: no actions")

	// ErrExecutionNotFound is returned when an execution ID does not exist.
	ErrExecutionNotFound = errors.New("rule: execution not found")

	// ErrEngineStopped is returned when a rule is triggered after Stop.
	ErrEngineStopped = errors.New("rule: engine stopped")

	// ErrNotWired is returned when an action needs a dependency the engine was built without.
	ErrNotWired = errors.New("rule: action target unavailable")
)
