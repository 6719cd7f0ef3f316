package client

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/jobflow/transport"
)

// topicFeed is the one transport subscription of a topic. Every
// subscription of the topic competes for its jobs, so each delivered job
// reaches exactly one handler whatever the transport's fan-out.
type topicFeed struct {
	topic    string
	messages chan *message.Message
	cancel   context.CancelFunc
	members  int
}

// joinFeed returns the feed of topic, subscribing to the transport when the
// topic has none yet. The options of the first subscription apply to the
// transport subscription.
func (c *Client) joinFeed(ctx context.Context, topic string, opts transport.SubscribeOptions) (*topicFeed, error) {
	c.feedsMu.Lock()
	defer c.feedsMu.Unlock()

	if f, ok := c.feeds[topic]; ok {
		f.members++
		return f, nil
	}

	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	in, err := c.subscriber.Subscribe(transport.WithSubscribeOptions(feedCtx, opts), topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	f := &topicFeed{
		topic:    topic,
		messages: make(chan *message.Message),
		cancel:   cancel,
		members:  1,
	}
	c.feeds[topic] = f
	go f.run(feedCtx, in)
	return f, nil
}

// leaveFeed drops one member of f and closes the transport subscription
// once the last member left.
func (c *Client) leaveFeed(f *topicFeed) {
	c.feedsMu.Lock()
	defer c.feedsMu.Unlock()

	f.members--
	if f.members > 0 {
		return
	}
	if c.feeds[f.topic] == f {
		delete(c.feeds, f.topic)
	}
	f.cancel()
}

// run hands every delivered job to one waiting member. Jobs delivered after
// the feed stopped are released.
func (f *topicFeed) run(ctx context.Context, in <-chan *message.Message) {
	defer close(f.messages)
	for {
		select {
		case <-ctx.Done():
			go drain(in)
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case f.messages <- msg:
			case <-ctx.Done():
				msg.Nack()
				go drain(in)
				return
			}
		}
	}
}

// drain releases jobs delivered after the feed stopped until the transport
// closes the channel.
func drain(messages <-chan *message.Message) {
	for msg := range messages {
		msg.Nack()
	}
}
