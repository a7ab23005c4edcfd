package api

import (
	"context"

	"folio/internal/services"
	"folio/internal/sweeper"
)

// SweepService runs retention sweeps on demand.
type SweepService struct {
	sweeper *sweeper.Sweeper
}

// NewSweepService wraps the sweeper for transport use.
func NewSweepService(sw *sweeper.Sweeper) *SweepService {
	return &SweepService{sweeper: sw}
}

// Run archives everything the retention rules classify and reports what was
// removed.
func (s *SweepService) Run(ctx context.Context) (*sweeper.Report, error) {
	if s == nil || s.sweeper == nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "sweep", "sweeper is not available", nil)
	}
	return s.sweeper.Sweep(ctx)
}

// Report classifies without archiving anything.
func (s *SweepService) Report(ctx context.Context) (*sweeper.Report, error) {
	if s == nil || s.sweeper == nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "sweep", "sweeper is not available", nil)
	}
	return s.sweeper.Audit(ctx)
}
