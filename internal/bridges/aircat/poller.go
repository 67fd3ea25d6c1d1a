package aircat

import (
	"context"
	"errors"
	"time"
)

// Poller drives a reactor from a timer instead of a dedicated loop: every
// interval it processes whatever events are ready, waiting at most timeout.
type Poller struct {
	reactor  *Reactor
	interval time.Duration
	timeout  time.Duration
	logger   Logger
}

// NewPoller creates a poller. A zero timeout only takes queued events.
func NewPoller(r *Reactor, interval, timeout time.Duration, logger Logger) *Poller {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Poller{reactor: r, interval: interval, timeout: timeout, logger: logger}
}

// Run starts the reactor if needed and polls until ctx is cancelled. The
// reactor is stopped on return.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.reactor.Start(ctx); err != nil && !errors.Is(err, ErrAlreadyStarted) {
		return err
	}
	defer p.reactor.Stop()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := p.reactor.PollOnce(ctx, p.timeout)
		switch {
		case errors.Is(err, ErrStopped), ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}
		p.logger.Debug("poll complete", "events", n)
	}
}
