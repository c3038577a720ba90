package model

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidSnapshot is returned when a snapshot from the metrics source
// cannot be written to the ledger.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the snapshot fields that map onto ledger call arguments.
func (s Snapshot) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSnapshot, s.SubjectID, err)
	}
	return nil
}

// Validate checks a configured threshold.
func (t MilestoneThreshold) Validate() error {
	return validate.Struct(t)
}
