package automation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxDescriptionLen = 500
	maxTriggers       = 50
	maxConditions     = 50
	maxActions        = 100
)

// Pre-computed validation sets for O(1) lookups.
var (
	validModes       map[Mode]struct{}
	validMaxExceeded map[MaxExceeded]struct{}
)

func init() {
	validModes = make(map[Mode]struct{}, len(AllModes()))
	for _, m := range AllModes() {
		validModes[m] = struct{}{}
	}
	validMaxExceeded = map[MaxExceeded]struct{}{
		MaxExceededSilent: {},
		MaxExceededWarn:   {},
		MaxExceededError:  {},
	}
}

// ValidateDefinition performs comprehensive validation on a stored
// automation definition. Returns an error describing the first validation
// failure found.
func ValidateDefinition(d *Definition) error {
	if d == nil {
		return ErrInvalid
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if len(d.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalid, maxDescriptionLen)
	}

	if d.Mode != "" {
		if _, ok := validModes[d.Mode]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidMode, d.Mode)
		}
	}

	if d.MaxExceeded != "" {
		if _, ok := validMaxExceeded[d.MaxExceeded]; !ok {
			return fmt.Errorf("%w: invalid max_exceeded %q", ErrInvalid, d.MaxExceeded)
		}
	}

	if len(d.Triggers) > maxTriggers {
		return fmt.Errorf("%w: exceeds maximum of %d triggers", ErrInvalid, maxTriggers)
	}
	if len(d.Conditions) > maxConditions {
		return fmt.Errorf("%w: exceeds maximum of %d conditions", ErrInvalid, maxConditions)
	}

	if len(d.Actions) == 0 {
		return ErrNoActions
	}
	if len(d.Actions) > maxActions {
		return fmt.Errorf("%w: exceeds maximum of %d actions", ErrInvalid, maxActions)
	}

	// Building the component trees validates every config map.
	if _, err := d.Build(); err != nil {
		return err
	}

	return nil
}

// ValidateName checks if an automation name is valid.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// GenerateID creates a new UUID for an automation or execution.
func GenerateID() string {
	return uuid.New().String()
}

// shortID returns an 8-character suffix for derived identifiers such as
// blueprint instance IDs.
func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
