package zwave

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Orchestrator drives the per-node interview sequence: a
// dependency-ordered walk over each node's Command Classes, sequential
// within a node and bounded-parallel across nodes.
type Orchestrator struct {
	controller  *Controller
	concurrency int
}

// NewOrchestrator builds an orchestrator bounded to concurrency simultaneous
// node interviews. concurrency <= 0 means unbounded.
func NewOrchestrator(controller *Controller, concurrency int) *Orchestrator {
	return &Orchestrator{controller: controller, concurrency: concurrency}
}

// InterviewAll runs InterviewNode over every node currently in the
// controller's node map, bounded by the orchestrator's concurrency.
func (o *Orchestrator) InterviewAll(ctx context.Context) {
	nodes := o.controller.nodes.all()

	limit := o.concurrency
	if limit <= 0 || limit > len(nodes) {
		limit = len(nodes)
	}
	if limit == 0 {
		return
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for _, n := range nodes {
		n := n
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.InterviewNode(ctx, n); err != nil {
				log.Warn().Uint8("node", n.ID).Err(err).Msg("zwave interview: node interview ended with errors")
			}
		}()
	}
	wg.Wait()
}

// InterviewNode runs the topologically-ordered interview sequence for a
// single node. A failing CC does not abort it: the failure is recorded and
// the remaining CCs still run. It stops early only when ctx is done, leaving
// the node PartiallyComplete.
func (o *Orchestrator) InterviewNode(ctx context.Context, node *Node) error {
	node.setInterviewStatus(InterviewInProgress)

	order := topoOrder(node)

	var firstErr error
	anyFailed := false
	for _, ccID := range order {
		select {
		case <-ctx.Done():
			node.setInterviewStatus(InterviewPartiallyComplete)
			return ctx.Err()
		default:
		}

		cc := node.GetCommandClass(ccID)
		if cc == nil {
			continue
		}
		if err := cc.Interview(ctx); err != nil {
			anyFailed = true
			node.mu.Lock()
			node.interviewErrs[ccID] = fmt.Errorf("%w: %v", ErrInterviewStepFailed, err)
			node.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
			log.Warn().Uint8("node", node.ID).Uint8("cc", uint8(ccID)).Err(err).Msg("zwave interview: command class interview failed")
			continue
		}
	}

	if anyFailed {
		node.setInterviewStatus(InterviewPartiallyComplete)
	} else {
		node.setInterviewStatus(InterviewComplete)
	}
	return firstErr
}

// Interview is the Node-level entry point.
func (n *Node) Interview(ctx context.Context) error {
	return n.driver.controller.defaultOrchestrator().InterviewNode(ctx, n)
}

// defaultOrchestrator lazily builds an unbounded single-use orchestrator for
// ad hoc Node.Interview calls outside a driven InterviewAll pass.
func (c *Controller) defaultOrchestrator() *Orchestrator {
	return NewOrchestrator(c, 0)
}

// topoOrder computes the dependency-ordered CC sequence for node: a
// depth-first post-order walk over Dependencies(), visiting candidates in
// ascending numeric CC-ID order for a stable tie-break, with cycles broken
// by dropping the back-edge.
func topoOrder(node *Node) []CommandClassId {
	ids := node.orderedCommandClassIDs()

	present := make(map[CommandClassId]bool, len(ids))
	deps := make(map[CommandClassId][]CommandClassId, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	for _, id := range ids {
		cc := node.GetCommandClass(id)
		d := append([]CommandClassId(nil), cc.Dependencies()...)
		sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
		deps[id] = d
	}

	visited := make(map[CommandClassId]bool, len(ids))
	var order []CommandClassId

	var visit func(id CommandClassId, onStack map[CommandClassId]bool)
	visit = func(id CommandClassId, onStack map[CommandClassId]bool) {
		if visited[id] {
			return
		}
		if onStack[id] {
			log.Warn().Uint8("cc", uint8(id)).Msg("zwave interview: dependency cycle detected, dropping back-edge")
			return
		}
		onStack[id] = true
		for _, dep := range deps[id] {
			if !present[dep] {
				continue
			}
			visit(dep, onStack)
		}
		delete(onStack, id)
		visited[id] = true
		order = append(order, id)
	}

	for _, id := range ids {
		visit(id, make(map[CommandClassId]bool))
	}

	// Version is always first regardless of how the DFS happened to order
	// it, per the orchestrator's special-cased first pass.
	for i, id := range order {
		if id == CommandClassVersion && i != 0 {
			order = append(order[:i:i], order[i+1:]...)
			order = append([]CommandClassId{CommandClassVersion}, order...)
			break
		}
	}

	return order
}
