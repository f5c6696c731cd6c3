package clock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrSyncFailed marks a failed boot-time synchronization. No time-dependent
// rendering may start with an unknown offset, so callers treat this as fatal.
var ErrSyncFailed = errors.New("clock synchronization failed")

// Offset is the estimated difference between the local and server clocks:
// localTime - Offset = serverTime. It is computed once at boot and immutable
// afterwards; every time-dependent component shares the same value.
type Offset time.Duration

// TimeSource answers with the server's current timestamp. The request gateway
// implements it via a time_sync request.
type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Estimate performs the one-shot symmetric-latency midpoint estimate: with t1
// and t2 the local send/receive instants and Ts the server timestamp,
// offset = t1 - (Ts - (t2-t1)/2). Outbound and inbound transit are assumed
// equal; jitter is not measured and no retry is attempted.
func Estimate(ctx context.Context, clk clockwork.Clock, src TimeSource) (Offset, error) {
	t1 := clk.Now()
	ts, err := src.ServerTime(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	t2 := clk.Now()

	rtt := t2.Sub(t1)
	offset := Offset(t1.Sub(ts) + rtt/2)

	log.Info().
		Dur("round_trip", rtt).
		Dur("offset", time.Duration(offset)).
		Msg("clock offset estimated")
	return offset, nil
}

// ServerNow maps the current local instant onto the server's clock.
func ServerNow(clk clockwork.Clock, offset Offset) time.Time {
	return clk.Now().Add(-time.Duration(offset))
}
