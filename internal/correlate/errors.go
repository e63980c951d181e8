package correlate

import (
	"errors"
	"fmt"
)

var (
	// ErrVehicleResolution marks a vehicle code that is missing from the
	// snapshot in force at match time.
	ErrVehicleResolution = errors.New("vehicle resolution failed")
	// ErrCorrelation marks a match that could not be turned into a record.
	ErrCorrelation = errors.New("correlation failed")
)

// VehicleResolutionError names the code that did not resolve.
type VehicleResolutionError struct {
	PlayerID string
	Code     string
	Release  string
	Reason   string
}

func (e *VehicleResolutionError) Error() string {
	return fmt.Sprintf("%s: player %s: vehicle %q in release %s: %s", ErrVehicleResolution, e.PlayerID, e.Code, e.Release, e.Reason)
}

func (e *VehicleResolutionError) Unwrap() error { return ErrVehicleResolution }

// PlayerDiagnostic reports a lineup problem for one player. Dropped is set
// when none of the player's vehicles resolved and the player was left out.
type PlayerDiagnostic struct {
	PlayerID string
	Code     string
	Dropped  bool
	Err      error
}

func (d PlayerDiagnostic) String() string {
	if d.Dropped {
		return fmt.Sprintf("player %s dropped: %v", d.PlayerID, d.Err)
	}
	return fmt.Sprintf("player %s: %v", d.PlayerID, d.Err)
}

// CorrelationError describes why a match produced no record.
type CorrelationError struct {
	MatchID string
	Reason  string
	Err     error
}

func (e *CorrelationError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrCorrelation, e.Reason)
	if e.MatchID != "" {
		msg = fmt.Sprintf("%s (match %s)", msg, e.MatchID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CorrelationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCorrelation}
	}
	return []error{ErrCorrelation, e.Err}
}
