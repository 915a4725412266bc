package store

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/swarmctl/swarmctl/internal/domain"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(":memory:", "c1")
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	return l
}

func TestLedgerAppendAssignsMonotonicTimestamp(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	defer l.Close()

	var last domain.Message
	for i := 0; i < 5; i++ {
		msg := domain.Message{
			ID:     uuid.NewString(),
			Topic:  domain.TopicIssueOpened,
			Sender: "system",
		}
		stored, err := l.Append(ctx, msg)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if stored.Timestamp < last.Timestamp {
			t.Fatalf("timestamp went backwards: %d < %d", stored.Timestamp, last.Timestamp)
		}
		last = stored
	}
}

func TestLedgerAppendRequiresID(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	defer l.Close()

	if _, err := l.Append(ctx, domain.Message{Topic: "X"}); err == nil {
		t.Fatalf("expected error appending message without id")
	}
}

func TestLedgerQueryFiltersByTopicAndOrders(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	defer l.Close()

	topics := []string{domain.TopicIssueOpened, domain.TopicValidationResult, domain.TopicIssueOpened}
	for _, topic := range topics {
		if _, err := l.Append(ctx, domain.Message{ID: uuid.NewString(), Topic: topic, Sender: "system"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := l.Query(ctx, domain.MessageFilter{Topic: domain.TopicIssueOpened})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 ISSUE_OPENED records, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatalf("query results not in ascending timestamp order")
		}
	}
}

func TestLedgerFindLastReturnsNewestMatch(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	defer l.Close()

	first := domain.Message{ID: uuid.NewString(), Topic: domain.TopicValidationResult, Sender: "validator", Content: domain.Content{Text: "A"}}
	second := domain.Message{ID: uuid.NewString(), Topic: domain.TopicValidationResult, Sender: "validator", Content: domain.Content{Text: "B"}}
	if _, err := l.Append(ctx, first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := l.Append(ctx, second); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	last, ok, err := l.FindLast(ctx, domain.MessageFilter{Topic: domain.TopicValidationResult})
	if err != nil {
		t.Fatalf("FindLast failed: %v", err)
	}
	if !ok || last.Content.Text != "B" {
		t.Fatalf("expected newest record B, got %+v (ok=%v)", last, ok)
	}
}

func TestLedgerConcurrentAppendAssignsUniqueMonotonicTimestamps(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	defer l.Close()

	const n = 50
	results := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, err := l.Append(ctx, domain.Message{
				ID:     uuid.NewString(),
				Topic:  domain.TopicIssueOpened,
				Sender: "system",
			})
			if err != nil {
				t.Errorf("Append failed: %v", err)
				return
			}
			results[i] = stored.Timestamp
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	seen := make(map[int64]bool, n)
	for _, ts := range results {
		if seen[ts] {
			t.Fatalf("duplicate timestamp %d assigned under concurrent Append", ts)
		}
		seen[ts] = true
	}

	got, err := l.Query(ctx, domain.MessageFilter{Topic: domain.TopicIssueOpened})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d records, got %d", n, len(got))
	}
}

func TestLedgerMetadataRoundTrips(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	defer l.Close()

	msg := domain.Message{
		ID:       uuid.NewString(),
		Topic:    domain.TopicIssueOpened,
		Sender:   "system",
		Metadata: map[string]interface{}{"_republished": true, "source": "text"},
	}
	if _, err := l.Append(ctx, msg); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := l.Query(ctx, domain.MessageFilter{Topic: domain.TopicIssueOpened})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || !got[0].Republished() {
		t.Fatalf("expected republished metadata to round-trip, got %+v", got)
	}
}
