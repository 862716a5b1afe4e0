package zwave

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// defaultCommandTimeout is the transaction deadline sendCommand applies when
// its caller passes a non-positive timeout, whatever deadline ctx carries.
// It does not bound report waits: awaitNextReport and sendAndAwaitReport
// wait until a matching frame arrives or ctx is done.
const defaultCommandTimeout = 5 * time.Second

// CommandClassId identifies a Z-Wave application-layer capability.
type CommandClassId uint8

// Command Class IDs implemented as plug-ins.
const (
	CommandClassNoOperation         CommandClassId = 0x00
	CommandClassBinarySwitch        CommandClassId = 0x25
	CommandClassManufacturerSpecific CommandClassId = 0x72
	CommandClassVersion             CommandClassId = 0x86
)

// CommandClassFrame is the payload of an application-layer frame, decoded
// independently of the serial transport that carried it.
type CommandClassFrame struct {
	CommandClassId CommandClassId
	CommandId      byte
	Parameters     []byte
}

// CommandClassInfo is static per node, set at discovery time.
type CommandClassInfo struct {
	Id           CommandClassId
	IsSupported  bool
	IsControlled bool
	IsSecure     bool
}

// CommandClass is the contract every Command Class implementation must
// satisfy. The base embedded in concrete implementations supplies
// sensible defaults for all but the domain-specific parsing.
type CommandClass interface {
	Info() CommandClassInfo
	// Version returns the learned version, or nil if not yet known.
	Version() *uint8
	// EffectiveVersion is Version() with a floor of 1.
	EffectiveVersion() uint8
	SetVersion(v uint8)

	// IsCommandSupported reports whether cmd is supported by this
	// instance, or nil if that cannot yet be determined (version unknown).
	IsCommandSupported(cmd byte) *bool

	// Interview queries enough state to populate cached properties.
	Interview(ctx context.Context) error

	// ProcessReceived updates cached state from an inbound frame. It must
	// never panic or return an error: malformed payloads are dropped.
	ProcessReceived(frame CommandClassFrame)

	// Dependencies lists CCs that must be interviewed first. Defaults to
	// {Version}; the Version CC itself overrides this to empty.
	Dependencies() []CommandClassId
}

// CommandClassFactory constructs a CommandClass instance bound to a node.
// Registered factories form the process-wide Command Class registry: a
// read-only table assembled at startup, never scanned via runtime
// reflection.
type CommandClassFactory func(info CommandClassInfo, driver *Driver, node *Node) CommandClass

var (
	registryMu sync.RWMutex
	registry   = map[CommandClassId]CommandClassFactory{}
)

// RegisterCommandClass installs factory for id. Intended to be called from
// each Command Class implementation's package-level init, or explicitly
// from driver startup before any node is discovered — never via a runtime
// type scan.
func RegisterCommandClass(id CommandClassId, factory CommandClassFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[id] = factory
}

// instantiateCommandClass builds the CC instance for (info, node), falling
// back to NotImplementedCommandClass when no factory is registered.
func instantiateCommandClass(info CommandClassInfo, driver *Driver, node *Node) CommandClass {
	registryMu.RLock()
	factory, ok := registry[info.Id]
	registryMu.RUnlock()
	if !ok {
		return newNotImplementedCommandClass(info)
	}
	return factory(info, driver, node)
}

// BaseCommandClass implements the mechanical parts of the CC contract:
// version bookkeeping, the arena-style back-reference to its node, and the sendCommand/awaitNextReport
// primitives. Concrete CCs embed it and override ProcessReceived,
// Interview, IsCommandSupported, and (rarely) Dependencies.
type BaseCommandClass struct {
	info CommandClassInfo

	driver *Driver
	nodeID byte // resolved via driver.controller.nodes when needed

	mu      sync.RWMutex
	version *uint8
}

func NewBaseCommandClass(info CommandClassInfo, driver *Driver, node *Node) BaseCommandClass {
	return BaseCommandClass{info: info, driver: driver, nodeID: node.ID}
}

func (b *BaseCommandClass) Info() CommandClassInfo { return b.info }

func (b *BaseCommandClass) Version() *uint8 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

func (b *BaseCommandClass) EffectiveVersion() uint8 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.version == nil {
		return 1
	}
	return *b.version
}

// SetVersion records the learned version exactly once; later calls that
// disagree are logged rather than applied.
func (b *BaseCommandClass) SetVersion(v uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.version == nil {
		b.version = &v
		return
	}
	if *b.version != v {
		log.Warn().
			Uint8("node", b.nodeID).
			Uint8("existing", *b.version).
			Uint8("observed", v).
			Msg("zwave cc: version re-observed with a different value, ignoring")
	}
}

// Dependencies defaults to {Version}; the Version CC overrides this.
func (b *BaseCommandClass) Dependencies() []CommandClassId {
	return []CommandClassId{CommandClassVersion}
}

// node resolves the live Node this CC belongs to through the controller's
// node map rather than holding a direct pointer, breaking the CC↔Node
// reference cycle.
func (b *BaseCommandClass) node() *Node {
	return b.driver.controller.nodes.get(b.nodeID)
}

// sendCommand submits cmdFrame as a transaction targeting this node and
// returns the handle so callers can await a RES and/or callbacks. A
// non-positive timeout falls back to defaultCommandTimeout.
func (b *BaseCommandClass) sendCommand(ctx context.Context, cmdFrame CommandClassFrame, timeout time.Duration) (*TransactionHandle, error) {
	n := b.node()
	if n == nil {
		return nil, ErrNodeNotFound
	}
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return b.driver.sendToNode(ctx, n, cmdFrame, timeout)
}

// awaitNextReport returns a future resolving to the next application frame
// from this CC's node whose command ID matches expectedCommandID and,
// if predicate is non-nil, whose contents satisfy it. Multiple concurrent
// waiters may register; each sees the first matching frame after it began
// waiting.
func (b *BaseCommandClass) awaitNextReport(ctx context.Context, expectedCommandID byte, predicate func(CommandClassFrame) bool) (CommandClassFrame, error) {
	n := b.node()
	if n == nil {
		return CommandClassFrame{}, ErrNodeNotFound
	}
	return n.awaitApplicationFrame(ctx, b.info.Id, expectedCommandID, predicate)
}

// sendAndAwaitReport registers the awaiter for reportCommandID before
// sending reqCommandID, eliminating the race where a fast device reply
// arrives before the caller starts waiting for it.
func (b *BaseCommandClass) sendAndAwaitReport(ctx context.Context, reqCommandID byte, params []byte, reportCommandID byte, predicate func(CommandClassFrame) bool, timeout time.Duration) (CommandClassFrame, error) {
	n := b.node()
	if n == nil {
		return CommandClassFrame{}, ErrNodeNotFound
	}

	w := n.registerWaiter(b.info.Id, reportCommandID, predicate)

	if _, err := b.sendCommand(ctx, CommandClassFrame{CommandClassId: b.info.Id, CommandId: reqCommandID, Parameters: params}, timeout); err != nil {
		n.removeWaiter(w)
		return CommandClassFrame{}, err
	}

	return n.waitFor(ctx, w)
}

// NotImplementedCommandClass is the registry's sentinel for CC IDs with no
// registered factory: it accepts and drops all frames and reports no
// version.
type notImplementedCommandClass struct {
	BaseCommandClass
}

func newNotImplementedCommandClass(info CommandClassInfo) CommandClass {
	return &notImplementedCommandClass{BaseCommandClass: BaseCommandClass{info: info}}
}

func (n *notImplementedCommandClass) IsCommandSupported(byte) *bool { return nil }
func (n *notImplementedCommandClass) Interview(ctx context.Context) error { return nil }
func (n *notImplementedCommandClass) ProcessReceived(CommandClassFrame)   {}
func (n *notImplementedCommandClass) Dependencies() []CommandClassId     { return nil }
