package services

import (
	"context"
	"time"

	"roomnet/internal/core/ports"

	"go.uber.org/zap"
)

// Connector reconciles the known-participants set against the open-sessions
// set: on a fixed interval, and immediately when the directory changes, it
// dials every known id that has no open session. There is no tie-break for
// who dials whom; both sides may attempt at once and the duplicate resolves
// via replace-on-open. The periodic sweep is also the retry mechanism for
// dropped channels; no per-session reconnect logic exists anywhere else.
type Connector struct {
	transport ports.Transport
	directory *Directory
	sessions  *SessionManager
	interval  time.Duration
	logger    *zap.SugaredLogger

	kick chan struct{}
}

func NewConnector(transport ports.Transport, directory *Directory, sessions *SessionManager, interval time.Duration, logger *zap.SugaredLogger) *Connector {
	c := &Connector{
		transport: transport,
		directory: directory,
		sessions:  sessions,
		interval:  interval,
		logger:    logger,
		kick:      make(chan struct{}, 1),
	}
	directory.OnChange(c.Kick)
	return c
}

// Kick requests an immediate sweep. Coalesces: a sweep already pending
// absorbs further kicks.
func (c *Connector) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run drives the reconciliation loop until ctx is cancelled.
func (c *Connector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.kick:
		}
		c.Sweep(ctx)
	}
}

// Sweep performs one reconciliation pass. Idempotent: with no state change a
// second pass finds every known peer already connected and does nothing.
// Safe to re-enter while a previous dial is still in flight, because the
// "connect only if no open session" check makes duplicates converge.
func (c *Connector) Sweep(ctx context.Context) {
	self := c.transport.Self()
	for _, id := range c.directory.Known() {
		if id == self || c.sessions.Open(id) {
			continue
		}
		if err := c.transport.Connect(ctx, id); err != nil {
			// Expected churn when the peer already left; the next poll
			// prunes it from the directory.
			c.logger.Debugw("dial failed", "peer", id, "error", err)
		}
	}
}
