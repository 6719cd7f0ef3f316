package transport

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockedUntil(t *testing.T) {
	msg := message.NewMessage("k1", nil)
	_, ok := LockedUntil(msg)
	assert.False(t, ok)

	deadline := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	SetLockedUntil(msg, deadline)
	got, ok := LockedUntil(msg)
	require.True(t, ok)
	assert.True(t, deadline.Equal(got))

	msg.Metadata.Set(MetadataLockedUntil, "soon")
	_, ok = LockedUntil(msg)
	assert.False(t, ok)
}

func TestStampLocks(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()

	arrival := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := lockStampingSubscriber{Subscriber: pubSub, fallback: time.Minute, now: func() time.Time { return arrival }}

	require.NoError(t, pubSub.Publish("greeting", message.NewMessage("k1", nil)))
	require.NoError(t, pubSub.Publish("billing", message.NewMessage("k2", nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	greetings, err := sub.Subscribe(WithSubscribeOptions(ctx, SubscribeOptions{LockDuration: 10 * time.Second}), "greeting")
	require.NoError(t, err)
	billing, err := sub.Subscribe(ctx, "billing")
	require.NoError(t, err)

	for _, tc := range []struct {
		messages <-chan *message.Message
		want     time.Time
	}{
		{greetings, arrival.Add(10 * time.Second)},
		{billing, arrival.Add(time.Minute)},
	} {
		select {
		case msg := <-tc.messages:
			got, ok := LockedUntil(msg)
			require.True(t, ok)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
			msg.Ack()
		case <-time.After(2 * time.Second):
			t.Fatal("message was not delivered")
		}
	}
}

func TestStampLocksWithoutLockPassesThrough(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	defer pubSub.Close()
	require.NoError(t, pubSub.Publish("greeting", message.NewMessage("k1", nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := StampLocks(pubSub, 0).Subscribe(ctx, "greeting")
	require.NoError(t, err)

	select {
	case msg := <-messages:
		_, ok := LockedUntil(msg)
		assert.False(t, ok)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}
}
