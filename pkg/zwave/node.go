package zwave

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// InterviewStatus tracks a node's progress through discovery.
type InterviewStatus int

const (
	InterviewNotStarted InterviewStatus = iota
	InterviewInProgress
	InterviewComplete
	InterviewPartiallyComplete
)

func (s InterviewStatus) String() string {
	switch s {
	case InterviewNotStarted:
		return "NotStarted"
	case InterviewInProgress:
		return "InProgress"
	case InterviewComplete:
		return "Complete"
	case InterviewPartiallyComplete:
		return "PartiallyComplete"
	default:
		return "Unknown"
	}
}

// Node is the in-memory model of a mesh device. It is created when
// discovered and mutated only by the Interview Orchestrator and the
// receive path.
type Node struct {
	ID                    byte
	IsListening           bool
	IsRouting             bool
	SupportedSpeeds       []uint32
	ProtocolVersion       byte
	NodeType              byte
	FrequentListeningMode bool
	SupportsBeaming       bool
	SupportsSecurity      bool

	mu                     sync.RWMutex
	commandClasses         map[CommandClassId]CommandClassInfo
	commandClassInstances  map[CommandClassId]CommandClass
	interviewStatus        InterviewStatus
	interviewErrs          map[CommandClassId]error

	waitersMu sync.Mutex
	waiters   []*reportWaiter

	driver *Driver
}

type reportWaiter struct {
	ccID      CommandClassId
	commandID byte
	predicate func(CommandClassFrame) bool
	ch        chan CommandClassFrame
}

// newNode constructs a Node and attaches a CommandClass instance for every
// entry in classes, consulting the registry. Unregistered IDs get
// the NotImplementedCommandClass sentinel, preserving the invariant that
// every commandClasses entry has a corresponding instance.
func newNode(id byte, driver *Driver, classes map[CommandClassId]CommandClassInfo) *Node {
	n := &Node{
		ID:                    id,
		commandClasses:        classes,
		commandClassInstances: make(map[CommandClassId]CommandClass, len(classes)),
		interviewErrs:         make(map[CommandClassId]error),
		driver:                driver,
	}
	for ccID, info := range classes {
		n.commandClassInstances[ccID] = instantiateCommandClass(info, driver, n)
	}
	return n
}

// GetCommandClass returns the instance for id, or nil if this node never
// reported support for it.
func (n *Node) GetCommandClass(id CommandClassId) CommandClass {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.commandClassInstances[id]
}

// InterviewStatus returns the node's current discovery state.
func (n *Node) InterviewStatus() InterviewStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.interviewStatus
}

func (n *Node) setInterviewStatus(s InterviewStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interviewStatus = s
}

// CommandClassInfos returns a snapshot of the node's static per-CC flags,
// keyed by CC ID, for callers that need to persist or display them.
func (n *Node) CommandClassInfos() map[CommandClassId]CommandClassInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[CommandClassId]CommandClassInfo, len(n.commandClasses))
	for id, info := range n.commandClasses {
		out[id] = info
	}
	return out
}

// orderedCommandClassIDs returns the node's CC IDs sorted numerically, used
// both for deterministic iteration and as the orchestrator's topological
// tie-break.
func (n *Node) orderedCommandClassIDs() []CommandClassId {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]CommandClassId, 0, len(n.commandClassInstances))
	for id := range n.commandClassInstances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// dispatchApplicationFrame is the node-level receive path: it feeds
// frame to the owning CC's ProcessReceived and resolves any awaitNextReport
// waiter whose predicate matches.
func (n *Node) dispatchApplicationFrame(frame CommandClassFrame) {
	n.mu.RLock()
	cc, ok := n.commandClassInstances[frame.CommandClassId]
	n.mu.RUnlock()
	if !ok {
		log.Warn().
			Uint8("node", n.ID).
			Uint8("cc", uint8(frame.CommandClassId)).
			Msg("zwave node: application frame for unlisted command class, no instance to process it")
		n.resolveWaiters(frame)
		return
	}

	cc.ProcessReceived(frame)
	n.resolveWaiters(frame)
}

func (n *Node) resolveWaiters(frame CommandClassFrame) {
	n.waitersMu.Lock()
	defer n.waitersMu.Unlock()

	remaining := n.waiters[:0]
	for _, w := range n.waiters {
		if w.ccID == frame.CommandClassId && w.commandID == frame.CommandId &&
			(w.predicate == nil || w.predicate(frame)) {
			select {
			case w.ch <- frame:
			default:
			}
			continue
		}
		remaining = append(remaining, w)
	}
	n.waiters = remaining
}

// awaitApplicationFrame registers a one-shot future for the next matching
// frame and resolves or cancels
// cooperatively with no leaked waiter.
func (n *Node) awaitApplicationFrame(ctx context.Context, ccID CommandClassId, commandID byte, predicate func(CommandClassFrame) bool) (CommandClassFrame, error) {
	w := n.registerWaiter(ccID, commandID, predicate)
	return n.waitFor(ctx, w)
}

// registerWaiter installs a one-shot future synchronously, before the
// caller sends the request that will eventually satisfy it, so there is no
// window in which a fast report could arrive unobserved.
func (n *Node) registerWaiter(ccID CommandClassId, commandID byte, predicate func(CommandClassFrame) bool) *reportWaiter {
	w := &reportWaiter{ccID: ccID, commandID: commandID, predicate: predicate, ch: make(chan CommandClassFrame, 1)}
	n.waitersMu.Lock()
	n.waiters = append(n.waiters, w)
	n.waitersMu.Unlock()
	return w
}

func (n *Node) waitFor(ctx context.Context, w *reportWaiter) (CommandClassFrame, error) {
	select {
	case frame := <-w.ch:
		return frame, nil
	case <-ctx.Done():
		n.removeWaiter(w)
		return CommandClassFrame{}, ctx.Err()
	}
}

func (n *Node) removeWaiter(target *reportWaiter) {
	n.waitersMu.Lock()
	defer n.waitersMu.Unlock()
	for i, w := range n.waiters {
		if w == target {
			n.waiters = append(n.waiters[:i:i], n.waiters[i+1:]...)
			return
		}
	}
}

// nodeTable is the controller's node map, keyed by node ID. Safe for
// concurrent use by the receive path, the orchestrator, and discovery.
type nodeTable struct {
	mu    sync.RWMutex
	nodes map[byte]*Node
}

func newNodeTable() *nodeTable {
	return &nodeTable{nodes: make(map[byte]*Node)}
}

func (t *nodeTable) get(id byte) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id]
}

func (t *nodeTable) set(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[n.ID] = n
}

func (t *nodeTable) remove(id byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, id)
}

func (t *nodeTable) ids() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]byte, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *nodeTable) all() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nodes := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

// reconcile keeps the node map in sync with the controller's latest node-ID
// list: nodes no longer reported are removed.
func (t *nodeTable) reconcile(reportedIDs []byte, driver *Driver) {
	want := make(map[byte]bool, len(reportedIDs))
	for _, id := range reportedIDs {
		want[id] = true
	}

	t.mu.Lock()
	for id := range t.nodes {
		if !want[id] {
			delete(t.nodes, id)
		}
	}
	t.mu.Unlock()

	for _, id := range reportedIDs {
		if t.get(id) == nil {
			t.set(newNode(id, driver, map[CommandClassId]CommandClassInfo{}))
		}
	}
}
