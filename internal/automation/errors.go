package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when an automation ID does not exist.
	ErrNotFound = errors.New("automation: not found")

	// ErrExists is returned when creating an automation with an ID that already exists.
	ErrExists = errors.New("automation: already exists")

	// ErrDisabled is returned when attempting to run a disabled automation.
	ErrDisabled = errors.New("automation: disabled")

	// ErrInvalid is returned when automation validation fails.
	ErrInvalid = errors.New("automation: invalid")

	// ErrInvalidName is returned when an automation name is empty or too long.
	ErrInvalidName = errors.New("automation: invalid name")

	// ErrInvalidMode is returned when an execution mode is not recognised.
	ErrInvalidMode = errors.New("automation: invalid mode")

	// ErrInvalidConfig is returned when a trigger/condition/action config
	// cannot be built into a concrete instance.
	ErrInvalidConfig = errors.New("automation: invalid config")

	// ErrNoActions is returned when an automation has no actions defined.
	ErrNoActions = errors.New("automation: no actions")

	// ErrExecutionNotFound is returned when an execution ID does not exist.
	ErrExecutionNotFound = errors.New("automation: execution not found")

	// ErrBlueprintNotFound is returned when a blueprint ID does not exist.
	ErrBlueprintNotFound = errors.New("automation: blueprint not found")

	// ErrBlueprintExists is returned when registering a blueprint with an ID
	// that already exists.
	ErrBlueprintExists = errors.New("automation: blueprint already exists")

	// ErrInvalidParameter is returned when a blueprint parameter value fails
	// validation during instance creation.
	ErrInvalidParameter = errors.New("automation: invalid parameter")
)
