// Package bus implements the publish/subscribe layer over the ledger:
// topic fan-out, default filling, and republish tagging.
package bus

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/swarmctl/swarmctl/internal/domain"
	store "github.com/swarmctl/swarmctl/internal/repository"
)

// DefaultReceiver is filled in when Publish is called without one.
const DefaultReceiver = "broadcast"

// Handler is invoked synchronously, after ledger append, for every
// matching published message. Handlers must be short-running; an agent
// dispatches its own task execution elsewhere rather than blocking here.
type Handler func(domain.Message)

// Bus layers topic subscriptions on top of a Manager's per-cluster
// ledgers. Subscriber bookkeeping mirrors a connection hub's
// register-map shape, adapted to direct synchronous calls instead of a
// channel-driven actor loop, since subscribers here must observe their
// message before Publish returns.
type Bus struct {
	ledgers *store.Manager

	mu   sync.RWMutex
	subs map[string]map[string]map[string]Handler // clusterID -> topic -> subID -> handler
}

// New creates a Bus backed by ledgers.
func New(ledgers *store.Manager) *Bus {
	return &Bus{
		ledgers: ledgers,
		subs:    make(map[string]map[string]map[string]Handler),
	}
}

// PublishInput is the argument to Publish; Receiver and Metadata are
// optional.
type PublishInput struct {
	ClusterID string
	Topic     string
	Sender    string
	Receiver  string
	Content   domain.Content
	Metadata  map[string]interface{}
}

// Publish fills defaults, appends to the ledger, and notifies
// subscribers of in.Topic for in.ClusterID.
func (b *Bus) Publish(ctx context.Context, in PublishInput) (domain.Message, error) {
	if in.ClusterID == "" || in.Topic == "" {
		return domain.Message{}, domain.NewCoordError(domain.ErrKindConfigError, "publish requires clusterId and topic", nil)
	}
	receiver := in.Receiver
	if receiver == "" {
		receiver = DefaultReceiver
	}

	ledger, err := b.ledgers.Get(in.ClusterID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("publish: %w", err)
	}

	msg := domain.Message{
		ID:       uuid.NewString(),
		ClusterID: in.ClusterID,
		Topic:    in.Topic,
		Sender:   in.Sender,
		Receiver: receiver,
		Content:  in.Content,
		Metadata: in.Metadata,
	}
	stored, err := ledger.Append(ctx, msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("publish: %w", err)
	}

	b.notify(stored)
	return stored, nil
}

// Republish re-publishes the latest message matching topic for
// clusterID, stamping metadata._republished = true. Used by the
// orchestrator when a CLUSTER_OPERATIONS entry requests a republish
// (spec §4.2, §8 Republish law).
func (b *Bus) Republish(ctx context.Context, clusterID, topic, sender string) (domain.Message, error) {
	ledger, err := b.ledgers.Get(clusterID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("republish: %w", err)
	}
	last, ok, err := ledger.FindLast(ctx, domain.MessageFilter{Topic: topic})
	if err != nil {
		return domain.Message{}, fmt.Errorf("republish: %w", err)
	}
	if !ok {
		return domain.Message{}, domain.NewCoordError(domain.ErrKindConfigError, fmt.Sprintf("republish: no prior %s message to republish", topic), nil)
	}

	metadata := map[string]interface{}{}
	for k, v := range last.Metadata {
		metadata[k] = v
	}
	metadata["_republished"] = true

	return b.Publish(ctx, PublishInput{
		ClusterID: clusterID,
		Topic:     topic,
		Sender:    sender,
		Receiver:  last.Receiver,
		Content:   last.Content,
		Metadata:  metadata,
	})
}

// SubscribeTopic registers fn to be called for every message published
// to topic within clusterID, and returns an unsubscribe function.
func (b *Bus) SubscribeTopic(clusterID, topic string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[clusterID] == nil {
		b.subs[clusterID] = make(map[string]map[string]Handler)
	}
	if b.subs[clusterID][topic] == nil {
		b.subs[clusterID][topic] = make(map[string]Handler)
	}
	subID := uuid.NewString()
	b.subs[clusterID][topic][subID] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if byTopic, ok := b.subs[clusterID]; ok {
			if handlers, ok := byTopic[topic]; ok {
				delete(handlers, subID)
				if len(handlers) == 0 {
					delete(byTopic, topic)
				}
			}
		}
	}
}

// UnsubscribeCluster drops all subscriptions for clusterID, e.g. on
// cluster purge.
func (b *Bus) UnsubscribeCluster(clusterID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, clusterID)
}

func (b *Bus) notify(msg domain.Message) {
	b.mu.RLock()
	var handlers []Handler
	if byTopic, ok := b.subs[msg.ClusterID]; ok {
		if hs, ok := byTopic[msg.Topic]; ok {
			handlers = make([]Handler, 0, len(hs))
			for _, h := range hs {
				handlers = append(handlers, h)
			}
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("ERROR: bus subscriber for cluster=%s topic=%s panicked: %v", msg.ClusterID, msg.Topic, r)
				}
			}()
			h(msg)
		}()
	}
}

// Query is a pass-through to the cluster's ledger.
func (b *Bus) Query(ctx context.Context, filter domain.MessageFilter) ([]domain.Message, error) {
	ledger, err := b.ledgers.Get(filter.ClusterID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return ledger.Query(ctx, filter)
}

// FindLast is a pass-through to the cluster's ledger.
func (b *Bus) FindLast(ctx context.Context, filter domain.MessageFilter) (domain.Message, bool, error) {
	ledger, err := b.ledgers.Get(filter.ClusterID)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("find last: %w", err)
	}
	return ledger.FindLast(ctx, filter)
}

// Count is a pass-through to the cluster's ledger.
func (b *Bus) Count(ctx context.Context, filter domain.MessageFilter) (int, error) {
	ledger, err := b.ledgers.Get(filter.ClusterID)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return ledger.Count(ctx, filter)
}
