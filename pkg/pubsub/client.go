// Package pubsub owns the Google Cloud Pub/Sub connection the outbox relay
// publishes through.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agromart/agromart-backend/pkg/logger"
)

// Client caches one ordered publisher per topic.
type Client struct {
	gcp     *gcppubsub.Client
	project string
	topics  []string

	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
}

// NewClient connects to project and refuses to start unless every topic in
// topics already exists. Topics are never created here; infrastructure owns them.
func NewClient(ctx context.Context, project string, topics []string, logg *logger.Logger) (*Client, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}
	resources := make([]string, 0, len(topics))
	for _, t := range topics {
		if name := topicResourceName(project, t); name != "" {
			resources = append(resources, name)
		}
	}
	if len(resources) == 0 {
		return nil, errors.New("at least one pubsub topic is required")
	}

	gcp, err := gcppubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c := &Client{
		gcp:        gcp,
		project:    project,
		topics:     resources,
		publishers: make(map[string]*gcppubsub.Publisher, len(resources)),
	}
	if err := c.Ping(ctx); err != nil {
		_ = gcp.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"project": project, "topics": resources}), "pubsub client initialized")
	}
	return c, nil
}

// Ping confirms every configured topic is reachable. All missing topics are
// reported together.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.gcp == nil {
		return errors.New("pubsub client not initialized")
	}
	var errs []error
	for _, name := range c.topics {
		_, err := c.gcp.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
		switch {
		case status.Code(err) == codes.NotFound:
			errs = append(errs, fmt.Errorf("topic %s does not exist", name))
		case err != nil:
			errs = append(errs, fmt.Errorf("get topic %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Publisher returns the ordered publisher for a topic id or full resource
// name, or nil for topics the client was not configured with.
func (c *Client) Publisher(topic string) *gcppubsub.Publisher {
	if c == nil || c.gcp == nil {
		return nil
	}
	name := topicResourceName(c.project, topic)
	if !c.configured(name) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	pub, ok := c.publishers[name]
	if !ok {
		pub = c.gcp.Publisher(name)
		pub.EnableMessageOrdering = true
		c.publishers[name] = pub
	}
	return pub
}

func (c *Client) configured(name string) bool {
	for _, t := range c.topics {
		if t == name {
			return true
		}
	}
	return false
}

// Close flushes outstanding messages on every publisher, then closes the
// connection.
func (c *Client) Close() error {
	if c == nil || c.gcp == nil {
		return nil
	}
	c.mu.Lock()
	for name, pub := range c.publishers {
		pub.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.gcp.Close()
}

// topicResourceName expands a bare topic id to projects/<p>/topics/<id>.
func topicResourceName(project, topic string) string {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return ""
	case strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/"):
		return topic
	case strings.TrimSpace(project) == "":
		return ""
	}
	return "projects/" + strings.TrimSpace(project) + "/topics/" + topic
}
