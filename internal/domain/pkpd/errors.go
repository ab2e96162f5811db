package pkpd

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoDoseEvents is returned when a simulation is requested without any dosing.
var ErrNoDoseEvents = errors.New("at least one dose event is required")

// UnknownModelError reports a variant that is not in the model table.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("invalid model selected: %s", e.Model)
}

// ValidationError carries every range violation found in a patient or dose list.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "input error: " + strings.Join(e.Messages, "; ")
}
