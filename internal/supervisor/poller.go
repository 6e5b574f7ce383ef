package supervisor

import (
	"context"
	"time"
)

// statusPoller is a suture.Service: its Serve loop polls the child's
// status endpoint at cfg.pollInterval() until ctx is cancelled. Wrapping
// it as a suture service means a panic inside pollOnce restarts the
// poll loop alone rather than crashing the supervisor process.
type statusPoller struct {
	s *Supervisor
}

func (p *statusPoller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.s.cfg.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.s.pollOnce(ctx)
		}
	}
}
