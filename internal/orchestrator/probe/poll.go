package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nemanja-m/cxehelper/internal/orchestrator/core"
)

const (
	defaultInterval = 500 * time.Millisecond
	defaultTimeout  = 2 * time.Second
)

// GRPCHealth waits Min and then polls the standard gRPC health service at
// Addr until it reports SERVING.
type GRPCHealth struct {
	Min      time.Duration
	Addr     string
	Service  string
	Interval time.Duration
	Timeout  time.Duration
}

func (p *GRPCHealth) WaitReady(ctx context.Context, w core.Worker) error {
	if err := settle(ctx, w, p.Min); err != nil {
		return err
	}

	conn, err := grpc.NewClient(p.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create health client for %s: %w", p.Addr, err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	req := &healthpb.HealthCheckRequest{Service: p.Service}

	return poll(ctx, w, p.Interval, p.Timeout, func(ctx context.Context) bool {
		resp, err := client.Check(ctx, req)
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	})
}

// HTTP waits Min and then polls URL until it answers 200.
type HTTP struct {
	Min      time.Duration
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
}

func (p *HTTP) WaitReady(ctx context.Context, w core.Worker) error {
	if err := settle(ctx, w, p.Min); err != nil {
		return err
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	return poll(ctx, w, p.Interval, p.Timeout, func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})
}

// poll calls check at most once per interval, each attempt bounded by
// timeout, until it succeeds, ctx ends or w exits.
func poll(
	ctx context.Context,
	w core.Worker,
	interval, timeout time.Duration,
	check func(ctx context.Context) bool,
) error {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := watch(ctx, w)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			// The limiter refuses early when the next token lies past the deadline.
			<-ctx.Done()
			return cause(ctx)
		}

		attemptCtx, cancelAttempt := context.WithTimeout(ctx, timeout)
		ok := check(attemptCtx)
		cancelAttempt()
		if ok {
			return nil
		}
		if ctx.Err() != nil {
			return cause(ctx)
		}
	}
}
