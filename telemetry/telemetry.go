/*
Package telemetry fetches the current odometer value from a vehicle
manufacturer's cloud API.

PURPOSE:
  Everything vendor-specific lives behind the Fetcher interface: the engine
  and the scheduled ingestion job only ever see "give me the current
  odometer in kilometers". Swapping manufacturers means writing one new
  Fetcher.

ERROR MODEL:
  The vendor flow is a fixed multi-step sequence. Any step failing aborts
  the whole fetch with a StepError naming the step, wrapping either
  mileage.ErrUpstreamAuth (login/token steps) or mileage.ErrUpstreamProtocol
  (data-retrieval steps). Nothing is ever written to the record store on a
  failed fetch.

SEE ALSO:
  - toyota.go: The concrete vendor client
  - api/scheduler.go: The daily ingestion job consuming this interface
*/
package telemetry

import (
	"context"
	"fmt"
	"math"

	"github.com/kmtrack/mileage-engine/mileage"
)

// Reading is a single odometer observation from the vendor, already
// normalized to kilometers.
type Reading struct {
	ValueKm int
	VIN     string
	Vehicle string
}

// Fetcher obtains the vehicle's current odometer value.
type Fetcher interface {
	FetchOdometer(ctx context.Context) (Reading, error)
}

// =============================================================================
// STEP ERRORS
// =============================================================================

// Flow steps, in order. StepError reports which one failed.
const (
	StepAuthenticate = "authenticate"
	StepAuthorize    = "authorize"
	StepToken        = "token"
	StepVehicle      = "vehicle"
	StepTelemetry    = "telemetry"
)

// StepError identifies the failing step of the vendor sequence.
type StepError struct {
	Step  string
	Cause error
	kind  error
}

func authErr(step string, cause error) *StepError {
	return &StepError{Step: step, Cause: cause, kind: mileage.ErrUpstreamAuth}
}

func protocolErr(step string, cause error) *StepError {
	return &StepError{Step: step, Cause: cause, kind: mileage.ErrUpstreamProtocol}
}

func (e *StepError) Error() string {
	return fmt.Sprintf("telemetry fetch failed at step %q: %v", e.Step, e.Cause)
}

func (e *StepError) Unwrap() error { return e.kind }

// =============================================================================
// UNIT CONVERSION
// =============================================================================

const milesToKm = 1.60934

// ToKilometers normalizes an odometer value to whole kilometers. Unknown
// units are treated as kilometers.
func ToKilometers(value float64, unit string) int {
	switch unit {
	case "miles", "mi", "Miles", "MI":
		return int(math.Round(value * milesToKm))
	default:
		return int(math.Round(value))
	}
}
