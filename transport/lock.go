package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// MetadataLockedUntil carries the instant the broker lock of a delivered job
// runs out. Transports that lock jobs when they fetch them set it, so that
// time spent waiting for a free handler counts against the lock.
const MetadataLockedUntil = "jobflow_locked_until"

// SetLockedUntil records the lock deadline of msg.
func SetLockedUntil(msg *message.Message, deadline time.Time) {
	msg.Metadata.Set(MetadataLockedUntil, deadline.UTC().Format(time.RFC3339Nano))
}

// LockedUntil returns the lock deadline recorded on msg, if any.
func LockedUntil(msg *message.Message) (time.Time, bool) {
	raw := msg.Metadata.Get(MetadataLockedUntil)
	if raw == "" {
		return time.Time{}, false
	}
	deadline, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return deadline, true
}

// StampLocks wraps sub so that every delivered message records a lock
// deadline of its arrival plus the subscription's lock duration, or fallback
// when the subscription sets none. It suits brokers whose lock starts when a
// message is handed out one at a time.
func StampLocks(sub message.Subscriber, fallback time.Duration) message.Subscriber {
	return lockStampingSubscriber{Subscriber: sub, fallback: fallback, now: time.Now}
}

type lockStampingSubscriber struct {
	message.Subscriber
	fallback time.Duration
	now      func() time.Time
}

func (s lockStampingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	in, err := s.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	opts, _ := SubscribeOptionsFrom(ctx)
	lock := OrDefault(opts.LockDuration, s.fallback)
	if lock <= 0 {
		return in, nil
	}

	out := make(chan *message.Message)
	go func() {
		defer close(out)
		for msg := range in {
			SetLockedUntil(msg, s.now().Add(lock))
			select {
			case out <- msg:
			case <-ctx.Done():
				msg.Nack()
			}
		}
	}()
	return out, nil
}
