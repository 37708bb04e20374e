package pubsub

import (
	"context"
	"testing"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{project: "agm-prod", name: "agm-order-events", want: "projects/agm-prod/topics/agm-order-events"},
		{project: "agm-prod", name: " projects/other/topics/x ", want: "projects/other/topics/x"},
		{project: "", name: "agm-order-events", want: ""},
		{project: "agm-prod", name: "  ", want: ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNewClientValidatesBeforeDialing(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, " ", []string{"orders"}, nil); err == nil {
		t.Fatal("expected missing project to fail")
	}
	if _, err := NewClient(ctx, "agm-prod", []string{" ", ""}, nil); err == nil {
		t.Fatal("expected blank topics to fail")
	}
}

func TestUnconfiguredClient(t *testing.T) {
	var c *Client
	if c.Publisher("orders") != nil {
		t.Fatalf("expected nil publisher for nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping on nil client to fail")
	}

	c = &Client{project: "agm-prod", topics: []string{"projects/agm-prod/topics/orders"}}
	if !c.configured(topicResourceName("agm-prod", "orders")) || c.configured(topicResourceName("agm-prod", "billing")) {
		t.Fatalf("unexpected topic membership")
	}
}
