// Package probe decides when a freshly spawned worker accepts tasks.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nemanja-m/cxehelper/internal/orchestrator/core"
	"github.com/nemanja-m/cxehelper/internal/shared/config"
)

// ErrWorkerExited is returned when the worker dies before it is ready.
var ErrWorkerExited = errors.New("worker exited before becoming ready")

// New builds the probe selected by cfg.Probe.
func New(cfg config.WorkerProcess) (core.ReadinessProbe, error) {
	switch cfg.Probe {
	case "", config.ProbeDelay:
		return &Delay{Min: cfg.SettleDelay}, nil
	case config.ProbeGRPC:
		return &GRPCHealth{
			Min:      cfg.SettleDelay,
			Addr:     cfg.GRPCAddr,
			Interval: cfg.ProbeInterval,
			Timeout:  cfg.ProbeTimeout,
		}, nil
	case config.ProbeHTTP:
		return &HTTP{
			Min:      cfg.SettleDelay,
			URL:      "http://" + cfg.HTTPAddr + "/healthz",
			Interval: cfg.ProbeInterval,
			Timeout:  cfg.ProbeTimeout,
		}, nil
	default:
		return nil, fmt.Errorf("unknown readiness probe %q", cfg.Probe)
	}
}

// Delay treats a worker as ready once it has survived Min.
type Delay struct {
	Min time.Duration
}

func (p *Delay) WaitReady(ctx context.Context, w core.Worker) error {
	return settle(ctx, w, p.Min)
}

// settle waits d unless ctx ends or w exits first.
func settle(ctx context.Context, w core.Worker, d time.Duration) error {
	if d <= 0 {
		select {
		case <-w.Done():
			return ErrWorkerExited
		default:
		}
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.Done():
		return ErrWorkerExited
	case <-timer.C:
		return nil
	}
}

// watch returns a context cancelled with ErrWorkerExited once w exits.
func watch(ctx context.Context, w core.Worker) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-w.Done():
			cancel(ErrWorkerExited)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// cause maps a cancelled poll back to the reason it stopped.
func cause(ctx context.Context) error {
	if err := context.Cause(ctx); errors.Is(err, ErrWorkerExited) {
		return ErrWorkerExited
	}
	return ctx.Err()
}
