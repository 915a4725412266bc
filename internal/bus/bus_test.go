package bus

import (
	"context"
	"testing"

	"github.com/swarmctl/swarmctl/internal/domain"
	store "github.com/swarmctl/swarmctl/internal/repository"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	m, err := store.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return New(m)
}

func TestPublishFillsDefaultReceiverAndNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(t)

	var received domain.Message
	calls := 0
	unsubscribe := b.SubscribeTopic("c1", domain.TopicIssueOpened, func(m domain.Message) {
		calls++
		received = m
	})
	defer unsubscribe()

	stored, err := b.Publish(ctx, PublishInput{ClusterID: "c1", Topic: domain.TopicIssueOpened, Sender: "system"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if stored.Receiver != DefaultReceiver {
		t.Fatalf("expected default receiver %q, got %q", DefaultReceiver, stored.Receiver)
	}
	if calls != 1 || received.ID != stored.ID {
		t.Fatalf("expected subscriber to observe published message once, calls=%d received=%+v", calls, received)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(t)

	calls := 0
	unsubscribe := b.SubscribeTopic("c1", domain.TopicIssueOpened, func(m domain.Message) { calls++ })
	unsubscribe()

	if _, err := b.Publish(ctx, PublishInput{ClusterID: "c1", Topic: domain.TopicIssueOpened, Sender: "system"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d calls", calls)
	}
}

func TestRepublishStampsMetadataAndPreservesContent(t *testing.T) {
	ctx := context.Background()
	b := newTestBus(t)

	if _, err := b.Publish(ctx, PublishInput{ClusterID: "c1", Topic: domain.TopicIssueOpened, Sender: "system", Content: domain.Content{Text: "hello"}}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	republished, err := b.Republish(ctx, "c1", domain.TopicIssueOpened, "orchestrator")
	if err != nil {
		t.Fatalf("Republish failed: %v", err)
	}
	if !republished.Republished() {
		t.Fatalf("expected republished message to carry _republished=true metadata")
	}
	if republished.Content.Text != "hello" {
		t.Fatalf("expected republish to preserve content, got %+v", republished.Content)
	}

	count, err := b.Count(ctx, domain.MessageFilter{ClusterID: "c1", Topic: domain.TopicIssueOpened})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 ISSUE_OPENED records after republish, got %d", count)
	}
}
