package modbusmeter

import "errors"

var (
	// ErrNoRegisters is returned when no register is mapped at all.
	ErrNoRegisters = errors.New("modbusmeter: no registers mapped")

	// ErrBadRegister is returned for a register option that is not an address.
	ErrBadRegister = errors.New("modbusmeter: invalid register address")

	// ErrMissingField is returned when the meter response lacks a mapped field.
	ErrMissingField = errors.New("modbusmeter: field missing from response")
)
