package transport

import (
	"context"
	"time"
)

// SubscribeOptions carry the resolved settings of one subscription to the
// transport. Zero values mean the transport default applies.
type SubscribeOptions struct {
	// LockDuration is how long a delivered job stays invisible to other
	// workers before it is redelivered.
	LockDuration time.Duration
	// PollInterval is the wait between polls of pull based transports.
	PollInterval time.Duration
	// RequestTimeout bounds a single fetch from the gateway.
	RequestTimeout time.Duration
	// MaxJobsActive bounds how many jobs are fetched per poll.
	MaxJobsActive int
}

type subscribeOptionsKey struct{}

// WithSubscribeOptions attaches opts to ctx for a following Subscribe call.
func WithSubscribeOptions(ctx context.Context, opts SubscribeOptions) context.Context {
	return context.WithValue(ctx, subscribeOptionsKey{}, opts)
}

// SubscribeOptionsFrom returns the options attached to ctx, if any.
func SubscribeOptionsFrom(ctx context.Context) (SubscribeOptions, bool) {
	if ctx == nil {
		return SubscribeOptions{}, false
	}
	opts, ok := ctx.Value(subscribeOptionsKey{}).(SubscribeOptions)
	return opts, ok
}

// OrDefault returns d when v is zero.
func OrDefault(v, d time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return d
}
