package services

import (
	"context"

	"github.com/dukex/itinera/pkg/journey"
)

// Sweep runs on-demand sweep cycles for the operational API.
type Sweep struct {
	driver *journey.Driver
}

// NewSweep creates a new sweep service.
func NewSweep(driver *journey.Driver) *Sweep {
	return &Sweep{driver: driver}
}

// Run executes one sweep cycle. A sweep already in flight (here or on
// another instance holding the lock) returns journey.ErrSweepInProgress.
func (s *Sweep) Run(ctx context.Context) (*journey.SweepSummary, error) {
	return s.driver.RunSweep(ctx)
}
