package trigger

import (
	"context"
	"reflect"

	"github.com/traefik/yaegi/interp"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// ledgerAPI is the read-only ledger surface a trigger predicate may
// call: ledger.Query/FindLast/Count. No stdlib symbol is loaded into the
// interpreter at all — this is the only surface available to predicate
// code, tighter than an stdlib allowlist since trigger logic needs no
// I/O whatsoever.
type ledgerAPI struct {
	ctx     context.Context
	cluster string
	q       Querier
}

func (l ledgerAPI) Query(topic, sender string, sinceMs int64, limit int) []domain.Message {
	msgs, err := l.q.Query(l.ctx, domain.MessageFilter{
		ClusterID: l.cluster, Topic: topic, Sender: sender, Since: sinceMs, Limit: limit,
	})
	if err != nil {
		return nil
	}
	return msgs
}

func (l ledgerAPI) FindLast(topic, sender string) (domain.Message, bool) {
	msg, ok, err := l.q.FindLast(l.ctx, domain.MessageFilter{ClusterID: l.cluster, Topic: topic, Sender: sender})
	if err != nil {
		return domain.Message{}, false
	}
	return msg, ok
}

func (l ledgerAPI) Count(topic, sender string, sinceMs int64) int {
	n, err := l.q.Count(l.ctx, domain.MessageFilter{ClusterID: l.cluster, Topic: topic, Sender: sender, Since: sinceMs})
	if err != nil {
		return 0
	}
	return n
}

// clusterAPI exposes cluster.GetAgents().
type clusterAPI struct {
	info ClusterInfo
}

func (c clusterAPI) GetAgents() []string {
	if c.info == nil {
		return nil
	}
	return c.info.GetAgents()
}

// helpersAPI exposes helpers.AllResponded(agents, topic, since).
type helpersAPI struct {
	ctx     context.Context
	cluster string
	q       Querier
}

// AllResponded reports whether every agent in agents has published to
// topic at or after sinceMs.
func (h helpersAPI) AllResponded(agents []string, topic string, sinceMs int64) bool {
	for _, agentID := range agents {
		n, err := h.q.Count(h.ctx, domain.MessageFilter{ClusterID: h.cluster, Topic: topic, Sender: agentID, Since: sinceMs})
		if err != nil || n == 0 {
			return false
		}
	}
	return true
}

// sandboxExports builds the frozen symbol table injected into the
// interpreter for one evaluation: ledger, cluster, message, helpers.
func sandboxExports(ctx context.Context, msg domain.Message, q Querier, cluster ClusterInfo) interp.Exports {
	l := ledgerAPI{ctx: ctx, cluster: msg.ClusterID, q: q}
	c := clusterAPI{info: cluster}
	h := helpersAPI{ctx: ctx, cluster: msg.ClusterID, q: q}

	return interp.Exports{
		"sandbox/sandbox": map[string]reflect.Value{
			"Ledger":  reflect.ValueOf(l),
			"Cluster": reflect.ValueOf(c),
			"Message": reflect.ValueOf(msg),
			"Helpers": reflect.ValueOf(h),
		},
	}
}
