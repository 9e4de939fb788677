// Package telemetry implements the metrics collectors used by the API, the
// generation gate and the billing reconciler.
package telemetry

import (
	"time"

	"copyforge/internal/types"
)

// Collector is the union of the metric sinks the services write to.
type Collector interface {
	RecordRequest(method, route, status string, duration time.Duration)
	RecordReservation(outcome types.ReservationOutcome)
	RecordBillingEvent(kind types.BillingEventKind, outcome types.ReconcileOutcome)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRequest(string, string, string, time.Duration)               {}
func (Nop) RecordReservation(types.ReservationOutcome)                        {}
func (Nop) RecordBillingEvent(types.BillingEventKind, types.ReconcileOutcome) {}
