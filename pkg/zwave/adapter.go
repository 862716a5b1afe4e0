package zwave

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/zwaved/pkg/db"
	"github.com/urmzd/zwaved/pkg/device"
)

// DeviceController adapts a Driver to device.Controller and
// device.EventSubscriber, letting the generic API/MCP layers drive a
// Z-Wave network through the protocol-neutral device interfaces.
type DeviceController struct {
	transport Transport
	driver    *Driver

	store     db.ZwaveNodeStore
	profileID int64

	subscribers   []chan device.DiscoveryEvent
	subscribersMu sync.Mutex

	connected bool
	connMu    sync.RWMutex
}

// NewDeviceController opens the serial port, brings the Driver up, pulls the
// controller's current node-ID bitmask, and kicks off a protocol-info query
// plus NIF request and interview for every node it finds. Discovered nodes
// are written through store under profileID as they finish interviewing;
// the stored node map is not read back at startup, so every start
// rediscovers the network from the controller. store may be nil to skip
// persistence entirely.
func NewDeviceController(portPath string, store db.ZwaveNodeStore, profileID int64) (*DeviceController, error) {
	log.Info().Str("port", portPath).Msg("Initializing Z-Wave controller")

	transport, err := OpenSerialTransport(portPath)
	if err != nil {
		return nil, fmt.Errorf("open serial: %w", err)
	}

	driver, err := Open(transport)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("open driver: %w", err)
	}

	c := &DeviceController{transport: transport, driver: driver, store: store, profileID: profileID}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.bringUp(ctx); err != nil {
		driver.Close()
		_ = transport.Close()
		return nil, fmt.Errorf("bring up network: %w", err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	log.Info().Msg("Z-Wave controller initialized")
	return c, nil
}

// bringUp fetches the node-ID bitmask, then for each node requests its NIF
// and protocol info and runs its interview, publishing a device_joined event
// and persisting the node's snapshot as each one finishes.
func (c *DeviceController) bringUp(ctx context.Context) error {
	ctrl := c.driver.Controller()

	if _, err := ctrl.GetSerialAPIInitData(ctx); err != nil {
		return err
	}

	orchestrator := NewOrchestrator(ctrl, 4)

	for _, node := range ctrl.Nodes() {
		node := node

		var protoInfo NodeProtocolInfo
		if info, err := ctrl.GetNodeProtocolInfo(ctx, node.ID); err != nil {
			log.Warn().Uint8("node", node.ID).Err(err).Msg("zwave: node protocol info query failed")
		} else {
			protoInfo = info
		}
		if err := ctrl.RequestNodeInfo(ctx, node.ID); err != nil {
			log.Warn().Uint8("node", node.ID).Err(err).Msg("zwave: node info request failed")
			continue
		}
		if err := orchestrator.InterviewNode(ctx, node); err != nil {
			log.Warn().Uint8("node", node.ID).Err(err).Msg("zwave: node interview ended with errors")
		}

		c.persistNode(ctx, node, protoInfo)

		dev := c.nodeToDevice(node)
		c.publishEvent(device.DiscoveryEvent{Type: "device_joined", Device: &dev, Timestamp: time.Now()})
	}

	return nil
}

// persistNode writes a node's current snapshot and Command Class set to
// store, logging rather than failing the caller on error: persistence is a
// reload convenience, not a condition of a usable network.
func (c *DeviceController) persistNode(ctx context.Context, node *Node, protoInfo NodeProtocolInfo) {
	if c.store == nil {
		return
	}

	now := time.Now().UTC()
	record := &db.ZwaveNode{
		NodeID:                node.ID,
		ProfileID:             c.profileID,
		IsListening:           node.IsListening,
		IsRouting:             node.IsRouting,
		ProtocolVersion:       node.ProtocolVersion,
		FrequentListeningMode: node.FrequentListeningMode,
		SupportsBeaming:       node.SupportsBeaming,
		SupportsSecurity:      node.SupportsSecurity,
		GenericDeviceClass:    protoInfo.GenericDeviceClass,
		SpecificDeviceClass:   protoInfo.SpecificDeviceClass,
		InterviewStatus:       node.InterviewStatus().String(),
		LastSeen:              &now,
	}
	if err := c.store.Upsert(ctx, record); err != nil {
		log.Warn().Uint8("node", node.ID).Err(err).Msg("zwave: failed to persist node snapshot")
		return
	}

	infos := node.CommandClassInfos()
	ccs := make([]db.ZwaveNodeCommandClass, 0, len(infos))
	for id, info := range infos {
		var version *int
		if v := node.GetCommandClass(id); v != nil {
			if learned := v.Version(); learned != nil {
				iv := int(*learned)
				version = &iv
			}
		}
		ccs = append(ccs, db.ZwaveNodeCommandClass{
			NodeID:         node.ID,
			CommandClassID: byte(id),
			IsSupported:    info.IsSupported,
			IsControlled:   info.IsControlled,
			IsSecure:       info.IsSecure,
			Version:        version,
		})
	}
	if err := c.store.ReplaceCommandClasses(ctx, node.ID, ccs); err != nil {
		log.Warn().Uint8("node", node.ID).Err(err).Msg("zwave: failed to persist node command classes")
	}
}

// parseNodeID recovers the node ID encoded in a device.Device.ID string.
func parseNodeID(id string) (byte, error) {
	n, err := strconv.ParseUint(id, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a node id", device.ErrValidation, id)
	}
	return byte(n), nil
}

func (c *DeviceController) nodeToDevice(n *Node) device.Device {
	manufacturer, model := "Unknown", "Unknown"
	if cc, ok := n.GetCommandClass(CommandClassManufacturerSpecific).(*ManufacturerSpecificCommandClass); ok {
		if mfgID, typeID, prodID, learned := cc.IDs(); learned {
			manufacturer = fmt.Sprintf("0x%04X", mfgID)
			model = fmt.Sprintf("0x%04X/0x%04X", typeID, prodID)
		}
	}

	devType := device.DeviceTypeSensor
	stateSchema := map[string]any{"type": "object", "properties": map[string]any{}}
	if _, ok := n.GetCommandClass(CommandClassBinarySwitch).(*BinarySwitchCommandClass); ok {
		devType = device.DeviceTypeSwitch
		stateSchema = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"state": map[string]any{"type": "string", "enum": []string{"ON", "OFF"}},
			},
		}
	}
	schemaBytes, _ := json.Marshal(stateSchema)

	// Name equals ID: the Serial API carries no user-facing node name, so
	// RenameDevice is unsupported and there is nothing else to put here.
	id := strconv.Itoa(int(n.ID))
	return device.Device{
		ID:           id,
		Name:         id,
		Type:         devType,
		Protocol:     device.ProtocolZWave,
		Manufacturer: manufacturer,
		Model:        model,
		StateSchema:  schemaBytes,
	}
}

func (c *DeviceController) publishEvent(evt device.DiscoveryEvent) {
	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// --- device.Controller ---

func (c *DeviceController) ListDevices(_ context.Context) ([]device.Device, error) {
	nodes := c.driver.Controller().Nodes()
	devices := make([]device.Device, 0, len(nodes))
	for _, n := range nodes {
		devices = append(devices, c.nodeToDevice(n))
	}
	return devices, nil
}

func (c *DeviceController) GetDevice(_ context.Context, id string) (*device.Device, error) {
	nodeID, err := parseNodeID(id)
	if err != nil {
		return nil, err
	}
	node := c.driver.Controller().Node(nodeID)
	if node == nil {
		return nil, device.ErrNotFound
	}
	dev := c.nodeToDevice(node)
	return &dev, nil
}

// RenameDevice is unsupported: the core node model carries no user-facing
// name field, and the Serial API has no command to set one.
func (c *DeviceController) RenameDevice(_ context.Context, id, newName string) error {
	return device.ErrUnsupported
}

// RemoveDevice drops the node from the controller's in-memory map. It does
// not perform an over-the-air exclusion; that is Serial API surface the core
// driver does not model.
func (c *DeviceController) RemoveDevice(ctx context.Context, id string, force bool) error {
	nodeID, err := parseNodeID(id)
	if err != nil {
		return err
	}
	ctrl := c.driver.Controller()
	if ctrl.Node(nodeID) == nil {
		return device.ErrNotFound
	}
	ctrl.nodes.remove(nodeID)

	if c.store != nil {
		if err := c.store.Delete(ctx, nodeID); err != nil && err != db.ErrZwaveNodeNotFound {
			log.Warn().Uint8("node", nodeID).Err(err).Msg("zwave: failed to delete persisted node")
		}
	}
	return nil
}

func (c *DeviceController) GetDeviceState(ctx context.Context, id string) (device.DeviceState, error) {
	nodeID, err := parseNodeID(id)
	if err != nil {
		return nil, err
	}
	node := c.driver.Controller().Node(nodeID)
	if node == nil {
		return nil, device.ErrNotFound
	}

	cc, ok := node.GetCommandClass(CommandClassBinarySwitch).(*BinarySwitchCommandClass)
	if !ok {
		return nil, device.ErrUnsupported
	}
	on, err := cc.Get(ctx)
	if err != nil {
		return nil, err
	}
	return device.DeviceState{"state": boolToState(on)}, nil
}

func (c *DeviceController) SetDeviceState(ctx context.Context, id string, state map[string]any) (device.DeviceState, error) {
	nodeID, err := parseNodeID(id)
	if err != nil {
		return nil, err
	}
	node := c.driver.Controller().Node(nodeID)
	if node == nil {
		return nil, device.ErrNotFound
	}

	cc, ok := node.GetCommandClass(CommandClassBinarySwitch).(*BinarySwitchCommandClass)
	if !ok {
		return nil, device.ErrUnsupported
	}

	stateVal, ok := state["state"]
	if !ok {
		return nil, fmt.Errorf("%w: missing \"state\"", device.ErrValidation)
	}
	strVal, ok := stateVal.(string)
	if !ok {
		return nil, fmt.Errorf("%w: \"state\" must be a string", device.ErrValidation)
	}

	var on bool
	switch strVal {
	case "ON":
		on = true
	case "OFF":
		on = false
	default:
		return nil, fmt.Errorf("%w: invalid state value %q", device.ErrValidation, strVal)
	}

	if err := cc.Set(ctx, on); err != nil {
		return nil, err
	}
	return device.DeviceState{"state": boolToState(on)}, nil
}

func boolToState(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// PermitJoin is unsupported: node inclusion/exclusion is controller-managed
// Serial API surface outside the driver core (mesh routing and network
// management are out of scope here).
func (c *DeviceController) PermitJoin(_ context.Context, enable bool, duration int) error {
	return device.ErrUnsupported
}

func (c *DeviceController) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *DeviceController) Close() {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.driver.Close()
	if err := c.transport.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close serial port")
	}
	log.Info().Msg("Z-Wave controller closed")
}

// --- device.EventSubscriber ---

func (c *DeviceController) Subscribe() chan device.DiscoveryEvent {
	ch := make(chan device.DiscoveryEvent, 16)
	c.subscribersMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subscribersMu.Unlock()
	return ch
}

func (c *DeviceController) Unsubscribe(ch chan device.DiscoveryEvent) {
	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()
	for i, sub := range c.subscribers {
		if sub == ch {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// --- Node-level surface (beyond device.Controller, used by the HTTP/MCP
// Z-Wave-specific endpoints that want more than the generic device model) ---

// NodeSnapshot is a serializable view of a Node for the HTTP/MCP surfaces.
type NodeSnapshot struct {
	ID              byte   `json:"id"`
	IsListening     bool   `json:"is_listening"`
	IsRouting       bool   `json:"is_routing"`
	ProtocolVersion byte   `json:"protocol_version"`
	InterviewStatus string `json:"interview_status"`
	CommandClasses  []byte `json:"command_classes"`
}

// Nodes returns a snapshot of every node currently in the controller's map.
func (c *DeviceController) Nodes() []NodeSnapshot {
	nodes := c.driver.Controller().Nodes()
	out := make([]NodeSnapshot, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeSnapshot(n))
	}
	return out
}

// Node returns a snapshot of a single node, or false if it is unknown.
func (c *DeviceController) Node(nodeID byte) (NodeSnapshot, bool) {
	node := c.driver.Controller().Node(nodeID)
	if node == nil {
		return NodeSnapshot{}, false
	}
	return nodeSnapshot(node), true
}

func nodeSnapshot(n *Node) NodeSnapshot {
	ids := n.orderedCommandClassIDs()
	ccs := make([]byte, len(ids))
	for i, id := range ids {
		ccs[i] = byte(id)
	}
	return NodeSnapshot{
		ID:              n.ID,
		IsListening:     n.IsListening,
		IsRouting:       n.IsRouting,
		ProtocolVersion: n.ProtocolVersion,
		InterviewStatus: n.InterviewStatus().String(),
		CommandClasses:  ccs,
	}
}

// InterviewNode re-runs the interview sequence for a single node on demand,
// e.g. after a HTTP/MCP caller suspects a node's Command Class state is stale.
func (c *DeviceController) InterviewNode(ctx context.Context, nodeID byte) error {
	node := c.driver.Controller().Node(nodeID)
	if node == nil {
		return device.ErrNotFound
	}
	interviewErr := node.Interview(ctx)

	var protoInfo NodeProtocolInfo
	if c.store != nil {
		if existing, err := c.store.Get(ctx, nodeID); err == nil {
			protoInfo.GenericDeviceClass = existing.GenericDeviceClass
			protoInfo.SpecificDeviceClass = existing.SpecificDeviceClass
		}
	}
	c.persistNode(ctx, node, protoInfo)

	return interviewErr
}
