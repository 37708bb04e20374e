package relay

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/agromart/agromart-backend/pkg/pubsub"
)

// Broker hands out a publisher per topic. Publisher returns nil for topics
// that are not configured.
type Broker interface {
	Ping(ctx context.Context) error
	Publisher(topic string) Publisher
}

// Publisher queues a message and returns a handle for its outcome. Messages
// sharing an ordering key are delivered in publish order; after a failure the
// key stays blocked until ResumePublish is called.
type Publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) Result
	ResumePublish(orderingKey string)
}

type Result interface {
	Get(ctx context.Context) (serverID string, err error)
}

// NewPubSubBroker adapts the shared Pub/Sub client.
func NewPubSubBroker(client *pubsub.Client) Broker {
	return pubSubBroker{client: client}
}

type pubSubBroker struct {
	client *pubsub.Client
}

func (b pubSubBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

func (b pubSubBroker) Publisher(topic string) Publisher {
	p := b.client.Publisher(topic)
	if p == nil {
		return nil
	}
	return gcpPublisher{p}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) Result {
	return gcpResult{g.p.Publish(ctx, msg)}
}

func (g gcpPublisher) ResumePublish(orderingKey string) {
	g.p.ResumePublish(orderingKey)
}

type gcpResult struct {
	r *gcppubsub.PublishResult
}

func (g gcpResult) Get(ctx context.Context) (string, error) {
	if g.r == nil {
		return "", errors.New("publish result is nil")
	}
	return g.r.Get(ctx)
}
