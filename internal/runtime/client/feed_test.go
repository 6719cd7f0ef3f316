package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/jobflow/internal/runtime/config"
	"github.com/drblury/jobflow/internal/runtime/jobs"
	"github.com/drblury/jobflow/transport"
	"github.com/drblury/jobflow/transport/channel"
)

// countingTransport counts the transport subscriptions opened per topic.
type countingTransport struct {
	message.Subscriber

	mu     sync.Mutex
	topics map[string]int
}

func (c *countingTransport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	c.mu.Lock()
	c.topics[topic]++
	c.mu.Unlock()
	return c.Subscriber.Subscribe(ctx, topic)
}

func (c *countingTransport) subscriptions(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

// wrappedRegistry registers the channel transport with its subscriber
// replaced by wrap.
func wrappedRegistry(wrap func(message.Subscriber) message.Subscriber) *transport.Registry {
	registry := transport.NewRegistry()
	registry.RegisterWithCapabilities("wrapped", func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		built, err := channel.Build(ctx, cfg, logger)
		if err != nil {
			return transport.Transport{}, err
		}
		built.Subscriber = wrap(built.Subscriber)
		return built, nil
	}, transport.ChannelCapabilities)
	return registry
}

func TestSubscriptionsOfOneTopicShareJobs(t *testing.T) {
	ctx := context.Background()
	counting := &countingTransport{topics: map[string]int{}}
	c, _ := newTestClient(t, &configpkg.Config{Transport: "wrapped", NumJobWorkerExecutionThreads: 4},
		WithTransportRegistry(wrappedRegistry(func(sub message.Subscriber) message.Subscriber {
			counting.Subscriber = sub
			return counting
		})))
	res := results(t, c, "dup")

	var first, second atomic.Int32
	counter := func(calls *atomic.Int32) jobs.HandlerFunc {
		return func(client jobs.JobClient, job jobs.ActivatedJob) {
			calls.Add(1)
			assert.NoError(t, client.Complete(job.Context(), job, nil))
		}
	}
	_, err := c.NewSubscription("dup").HandlerName("first").Handler(counter(&first)).Open(ctx)
	require.NoError(t, err)
	_, err = c.NewSubscription("dup").HandlerName("second").Handler(counter(&second)).Open(ctx)
	require.NoError(t, err)

	const created = 6
	keys := map[string]bool{}
	for range created {
		key, err := c.CreateJob(ctx, "dup", jobs.NewJob{})
		require.NoError(t, err)
		keys[key] = true
	}

	settled := map[string]int{}
	for range created {
		r := nextResult(t, res)
		assert.Equal(t, jobs.StatusCompleted, r.Status)
		settled[r.Key]++
	}

	select {
	case msg := <-res:
		t.Fatalf("job settled more than once: %s", msg.UUID)
	case <-time.After(200 * time.Millisecond):
	}

	assert.Len(t, settled, created)
	for key, n := range settled {
		assert.True(t, keys[key])
		assert.Equal(t, 1, n, key)
	}
	assert.Equal(t, int32(created), first.Load()+second.Load())
	assert.Equal(t, 1, counting.subscriptions("dup"))
}

func TestFeedOutlivesClosedMember(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, nil)
	res := results(t, c, "dup")

	leaving, err := c.NewSubscription("dup").Handler(completeWith(nil)).Open(ctx)
	require.NoError(t, err)
	_, err = c.NewSubscription("dup").Handler(completeWith(nil)).Open(ctx)
	require.NoError(t, err)
	require.NoError(t, leaving.Close())

	_, err = c.CreateJob(ctx, "dup", jobs.NewJob{})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, nextResult(t, res).Status)

	c.feedsMu.Lock()
	defer c.feedsMu.Unlock()
	require.Contains(t, c.feeds, "dup")
	assert.Equal(t, 1, c.feeds["dup"].members)
}

func TestJobDeadlineCountsTimeWaitingForThread(t *testing.T) {
	ctx := context.Background()
	const lock = 2 * time.Second
	c, _ := newTestClient(t, &configpkg.Config{Transport: "wrapped", NumJobWorkerExecutionThreads: 1},
		WithTransportRegistry(wrappedRegistry(func(sub message.Subscriber) message.Subscriber {
			return transport.StampLocks(sub, 0)
		})))

	type invocation struct {
		job       jobs.ActivatedJob
		invokedAt time.Time
	}
	invocations := make(chan invocation, 2)
	release := make(chan struct{})
	_, err := c.NewSubscription("queued").
		LockDuration(lock).
		Handler(jobs.HandlerFunc(func(client jobs.JobClient, job jobs.ActivatedJob) {
			invocations <- invocation{job: job, invokedAt: time.Now()}
			<-release
			assert.NoError(t, client.Complete(job.Context(), job, nil))
		})).
		Open(ctx)
	require.NoError(t, err)

	_, err = c.CreateJob(ctx, "queued", jobs.NewJob{})
	require.NoError(t, err)
	busy := receive(t, invocations)
	_, err = c.CreateJob(ctx, "queued", jobs.NewJob{})
	require.NoError(t, err)

	// The second job waits for the only thread while its lock runs.
	time.Sleep(800 * time.Millisecond)
	close(release)

	waited := receive(t, invocations)
	assert.False(t, busy.job.Deadline.After(busy.invokedAt.Add(lock)))
	assert.True(t, waited.job.Deadline.Before(waited.invokedAt.Add(lock-300*time.Millisecond)),
		"deadline %s invoked %s", waited.job.Deadline, waited.invokedAt)
}

func TestJobWithLapsedLockIsReleased(t *testing.T) {
	ctx := context.Background()
	var deliveries atomic.Int32
	c, logger := newTestClient(t, &configpkg.Config{Transport: "wrapped"},
		WithTransportRegistry(wrappedRegistry(func(sub message.Subscriber) message.Subscriber {
			return stampingSubscriber{Subscriber: sub, stamp: func(msg *message.Message) {
				if deliveries.Add(1) == 1 {
					transport.SetLockedUntil(msg, time.Now().Add(-time.Second))
				}
			}}
		})))
	res := results(t, c, "stale")

	var calls atomic.Int32
	_, err := c.NewSubscription("stale").
		Handler(jobs.HandlerFunc(func(client jobs.JobClient, job jobs.ActivatedJob) {
			calls.Add(1)
			assert.NoError(t, client.Complete(job.Context(), job, nil))
		})).
		Open(ctx)
	require.NoError(t, err)

	_, err = c.CreateJob(ctx, "stale", jobs.NewJob{})
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, nextResult(t, res).Status)
	assert.Equal(t, int32(1), calls.Load())
	assert.GreaterOrEqual(t, deliveries.Load(), int32(2))

	entry, ok := logger.find("Releasing job whose lock ran out before a handler was free")
	require.True(t, ok)
	assert.Equal(t, "warn", entry.level)
}

func TestJobDeadlineFollowsEarlierTransportLock(t *testing.T) {
	ctx := context.Background()
	lockedUntil := time.Now().Add(90 * time.Second).Round(time.Millisecond)
	c, _ := newTestClient(t, &configpkg.Config{Transport: "wrapped"},
		WithTransportRegistry(wrappedRegistry(func(sub message.Subscriber) message.Subscriber {
			return stampingSubscriber{Subscriber: sub, stamp: func(msg *message.Message) {
				transport.SetLockedUntil(msg, lockedUntil)
			}}
		})))

	deadlines := make(chan time.Time, 2)
	handler := jobs.HandlerFunc(func(client jobs.JobClient, job jobs.ActivatedJob) {
		deadlines <- job.Deadline
		assert.NoError(t, client.Complete(job.Context(), job, nil))
	})
	_, err := c.NewSubscription("long").LockDuration(time.Hour).Handler(handler).Open(ctx)
	require.NoError(t, err)
	_, err = c.NewSubscription("short").LockDuration(time.Second).Handler(handler).Open(ctx)
	require.NoError(t, err)

	_, err = c.CreateJob(ctx, "long", jobs.NewJob{})
	require.NoError(t, err)
	assert.True(t, lockedUntil.Equal(receive(t, deadlines)))

	_, err = c.CreateJob(ctx, "short", jobs.NewJob{})
	require.NoError(t, err)
	assert.True(t, receive(t, deadlines).Before(lockedUntil))
}

// stampingSubscriber passes every delivered message through stamp.
type stampingSubscriber struct {
	message.Subscriber
	stamp func(*message.Message)
}

func (s stampingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	in, err := s.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan *message.Message)
	go func() {
		defer close(out)
		for msg := range in {
			s.stamp(msg)
			out <- msg
		}
	}()
	return out, nil
}
