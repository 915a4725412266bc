// Package trigger evaluates the sandboxed predicate language attached to
// agent triggers: a restricted, frozen-globals expression language with
// read-only ledger access and a hard wall-time budget.
package trigger

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// Budget is the hard wall-time budget for one logic evaluation (spec §4.3).
// Variable (not const) so tests can shrink it without waiting a full second.
var Budget = 1000 * time.Millisecond

// Querier is the read-only ledger access a logic predicate may use.
type Querier interface {
	Query(ctx context.Context, filter domain.MessageFilter) ([]domain.Message, error)
	FindLast(ctx context.Context, filter domain.MessageFilter) (domain.Message, bool, error)
	Count(ctx context.Context, filter domain.MessageFilter) (int, error)
}

// ClusterInfo exposes the set of agent ids known to the cluster, for
// cluster.GetAgents().
type ClusterInfo interface {
	GetAgents() []string
}

// triggerKey identifies one (agent, trigger, message) firing for the
// idempotency table (spec §3, §8: a trigger fires for a given message id
// at most once).
type triggerKey struct {
	AgentID      string
	TriggerIndex int
	MessageID    string
}

// Engine evaluates trigger predicates and tracks which (agent, trigger,
// message) combinations have already fired.
type Engine struct {
	fired map[triggerKey]struct{}
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	return &Engine{fired: make(map[triggerKey]struct{})}
}

// AlreadyFired reports whether this exact trigger has already fired for
// this message.
func (e *Engine) AlreadyFired(agentID string, triggerIndex int, messageID string) bool {
	_, ok := e.fired[triggerKey{agentID, triggerIndex, messageID}]
	return ok
}

// MarkFired records that this trigger has now fired for this message.
func (e *Engine) MarkFired(agentID string, triggerIndex int, messageID string) {
	e.fired[triggerKey{agentID, triggerIndex, messageID}] = struct{}{}
}

// Evaluate runs logic against msg with read-only access to querier and
// cluster, under the 1000ms wall-time budget. An empty logic string is
// vacuously true (an unconditioned trigger). A timeout or evaluation
// failure both resolve to false; the caller is responsible for
// publishing LOGIC_ERROR on the error path (budget overruns are logged
// here as a warning, per spec §4.3, and are not treated as errors).
func (e *Engine) Evaluate(ctx context.Context, logic string, msg domain.Message, querier Querier, cluster ClusterInfo) (bool, error) {
	logic = strings.TrimSpace(logic)
	if logic == "" {
		return true, nil
	}

	i := interp.New(interp.Options{})
	if err := i.Use(sandboxExports(ctx, msg, querier, cluster)); err != nil {
		return false, fmt.Errorf("load trigger sandbox: %w", err)
	}

	if _, err := i.Eval(wrapLogic(logic)); err != nil {
		return false, fmt.Errorf("compile trigger logic: %w", err)
	}
	v, err := i.Eval("main.Eval")
	if err != nil {
		return false, fmt.Errorf("resolve trigger logic: %w", err)
	}
	evalFn, ok := v.Interface().(func() bool)
	if !ok {
		return false, fmt.Errorf("trigger logic did not produce a bool expression")
	}

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{false, fmt.Errorf("trigger logic panicked: %v", r)}
			}
		}()
		done <- result{evalFn(), nil}
	}()

	timer := time.NewTimer(Budget)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.ok, r.err
	case <-timer.C:
		log.Printf("WARN: trigger logic exceeded %s budget, treating as false: %q", Budget, logic)
		return false, nil
	case <-ctx.Done():
		return false, nil
	}
}

func wrapLogic(logic string) string {
	return fmt.Sprintf(`
package main

import "sandbox"

var ledger = sandbox.Ledger
var cluster = sandbox.Cluster
var message = sandbox.Message
var helpers = sandbox.Helpers

func Eval() bool {
	return %s
}
`, logic)
}
