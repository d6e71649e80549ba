package health

import (
	"context"
	"time"

	corehealth "3tcapital/ms_facturacion_afip/internal/core/health"

	"golang.org/x/sync/errgroup"
)

const defaultProbeTimeout = 5 * time.Second

// Metadata contains immutable metadata about the running service.
type Metadata struct {
	Service     string
	Version     string
	Environment string
}

// Probe checks one dependency. A failing critical probe takes the service down; any
// other failure only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Service exposes health-check use cases to adapters.
type Service struct {
	meta      Metadata
	probes    []Probe
	timeout   time.Duration
	startedAt time.Time
	now       func() time.Time
}

func NewService(meta Metadata, probes ...Probe) *Service {
	return &Service{
		meta:      meta,
		probes:    probes,
		timeout:   defaultProbeTimeout,
		startedAt: time.Now().UTC(),
		now:       time.Now,
	}
}

// Status runs every probe concurrently, each bounded by the probe timeout, and
// returns the availability snapshot.
func (s *Service) Status(ctx context.Context) corehealth.Status {
	checks := make([]corehealth.Check, len(s.probes))

	var g errgroup.Group
	for i, p := range s.probes {
		g.Go(func() error {
			checks[i] = s.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	status := corehealth.StatusUp
	for _, c := range checks {
		if c.Healthy {
			continue
		}
		if c.Critical {
			status = corehealth.StatusDown
			break
		}
		status = corehealth.StatusDegraded
	}

	uptime := s.now().Sub(s.startedAt)
	return corehealth.Status{
		Service:     s.meta.Service,
		Version:     s.meta.Version,
		Environment: s.meta.Environment,
		Status:      status,
		StartedAt:   s.startedAt,
		Uptime:      uptime.Round(time.Second).String(),
		UptimeSecs:  int64(uptime.Seconds()),
		Checks:      checks,
	}
}

func (s *Service) run(ctx context.Context, p Probe) corehealth.Check {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	err := p.Check(ctx)
	check := corehealth.Check{
		Name:      p.Name,
		Critical:  p.Critical,
		Healthy:   err == nil,
		LatencyMs: s.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		check.Error = err.Error()
	}
	return check
}
