package dedupe

import (
	"errors"
	"fmt"
)

// ErrDefinitionNotFound is returned when a report definition id is unknown.
var ErrDefinitionNotFound = errors.New("duplicate report definition not found")

// ErrInvalidRequest marks evaluation parameters that cannot be run.
var ErrInvalidRequest = errors.New("invalid request")

// DataAccessError records a failure while processing one reference patient.
// The run continues; the failure is reported in place of that patient's row.
type DataAccessError struct {
	PatientID int64
	Err       error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("patient %d: %v", e.PatientID, e.Err)
}

func (e *DataAccessError) Unwrap() error {
	return e.Err
}
