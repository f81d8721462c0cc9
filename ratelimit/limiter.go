// Package ratelimit protects the single-threaded hub from a flooding client,
// using github.com/ulule/limiter/v3 with the in-memory store — following the
// example pack's rate-limiter wiring, minus its Redis-backed distributed
// option, which has no home here (see DESIGN.md: persistence is a non-goal).
package ratelimit

import (
	"context"
	"fmt"
	"net"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"xiangqi-server/metrics"
)

// Limiter rate-limits two distinct things: new WebSocket connections keyed
// by remote IP, and inbound commands keyed by connection ID.
type Limiter struct {
	connectByIP  *limiter.Limiter
	commandByUser *limiter.Limiter
}

// New builds a Limiter from formatted rate strings such as "20-M" (20 per
// minute), the same format ulule/limiter and the example pack's config use.
func New(connectRate, commandRate string) (*Limiter, error) {
	store := memory.NewStore()

	connRate, err := limiter.NewRateFromFormatted(connectRate)
	if err != nil {
		return nil, fmt.Errorf("invalid connect rate %q: %w", connectRate, err)
	}
	cmdRate, err := limiter.NewRateFromFormatted(commandRate)
	if err != nil {
		return nil, fmt.Errorf("invalid command rate %q: %w", commandRate, err)
	}

	return &Limiter{
		connectByIP:   limiter.New(store, connRate),
		commandByUser: limiter.New(store, cmdRate),
	}, nil
}

// AllowConnect reports whether a new WebSocket upgrade from remoteAddr should
// proceed.
func (l *Limiter) AllowConnect(ctx context.Context, remoteAddr string) bool {
	key := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		key = host
	}
	res, err := l.connectByIP.Get(ctx, key)
	if err != nil {
		return true // fail open: availability over strictness
	}
	if res.Reached {
		metrics.RateLimitExceededTotal.WithLabelValues("connect").Inc()
		return false
	}
	return true
}

// AllowCommand reports whether an inbound command frame from connectionID
// should be processed.
func (l *Limiter) AllowCommand(ctx context.Context, connectionID string) bool {
	res, err := l.commandByUser.Get(ctx, connectionID)
	if err != nil {
		return true
	}
	if res.Reached {
		metrics.RateLimitExceededTotal.WithLabelValues("command").Inc()
		return false
	}
	return true
}
