package zwave

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Serial API function IDs used by the controller-level discovery and
// application-frame delivery paths.
const (
	funcSerialAPIGetInitData    byte = 0x02
	funcApplicationCommandHandler byte = 0x04
	funcSendData                byte = 0x13
	funcGetNodeProtocolInfo     byte = 0x41
	funcRequestNodeInfo         byte = 0x60
)

// Controller owns the serial transport, the link layer, the transaction
// table, and the node map. It is the Driver's single collaborator.
type Controller struct {
	transport  Transport
	link       *LinkLayer
	tl         *TransactionLayer
	dispatcher *ReceiveDispatcher
	nodes      *nodeTable
	driver     *Driver
}

// Driver is the top-level handle returned by Open.
type Driver struct {
	controller *Controller
}

// Open starts the link layer and dispatcher over transport and returns a
// ready-to-use Driver. The caller owns transport's lifecycle.
func Open(transport Transport) (*Driver, error) {
	link := NewLinkLayer(transport)
	tl := NewTransactionLayer(link)

	d := &Driver{}
	ctrl := &Controller{
		transport: transport,
		link:      link,
		tl:        tl,
		nodes:     newNodeTable(),
		driver:    d,
	}
	d.controller = ctrl

	ctrl.dispatcher = NewReceiveDispatcher(link, tl)
	ctrl.dispatcher.RegisterUnsolicitedHandler(funcApplicationCommandHandler, ctrl.handleApplicationCommandHandler)
	ctrl.dispatcher.RegisterUnsolicitedHandler(funcApplicationCommandHandlerBridge, ctrl.handleApplicationCommandHandlerBridge)

	link.Start()
	ctrl.dispatcher.Start()

	return d, nil
}

// Close tears down the dispatcher, transaction layer, and link layer. The
// underlying transport is left for the caller to close.
func (d *Driver) Close() {
	d.controller.dispatcher.Close()
	d.controller.tl.Close()
	d.controller.link.Close()
}

// Controller exposes the driver's Controller.
func (d *Driver) Controller() *Controller { return d.controller }

// Nodes returns a snapshot of the controller's node map.
func (c *Controller) Nodes() map[byte]*Node {
	out := make(map[byte]*Node)
	for _, n := range c.nodes.all() {
		out[n.ID] = n
	}
	return out
}

// Node looks up a single node by ID.
func (c *Controller) Node(id byte) *Node { return c.nodes.get(id) }

func (c *Controller) handleApplicationCommandHandler(params []byte) {
	// Non-Bridge layout: receivedStatus, srcNode, payloadLen, payload….
	if len(params) < 3 {
		log.Warn().Msg("zwave controller: short ApplicationCommandHandler frame, dropping")
		return
	}
	payloadLen := int(params[2])
	if len(params) < 3+payloadLen {
		log.Warn().Msg("zwave controller: truncated ApplicationCommandHandler payload, dropping")
		return
	}
	c.routeApplicationPayload(params[1], params[3:3+payloadLen])
}

func (c *Controller) handleApplicationCommandHandlerBridge(params []byte) {
	frame, ok := decodeApplicationCommandHandlerBridge(params)
	if !ok {
		log.Warn().Msg("zwave controller: malformed ApplicationCommandHandlerBridge frame, dropping")
		return
	}
	c.routeApplicationPayload(frame.SourceNode, frame.Payload)
}

func (c *Controller) routeApplicationPayload(sourceNode byte, payload []byte) {
	if len(payload) < 2 {
		log.Warn().Uint8("node", sourceNode).Msg("zwave controller: application payload too short for a CC frame, dropping")
		return
	}
	node := c.nodes.get(sourceNode)
	if node == nil {
		log.Warn().Uint8("node", sourceNode).Msg("zwave controller: application frame from unknown node, dropping")
		return
	}
	node.dispatchApplicationFrame(CommandClassFrame{
		CommandClassId: CommandClassId(payload[0]),
		CommandId:      payload[1],
		Parameters:     append([]byte(nil), payload[2:]...),
	})
}

// sendToNode wraps a CommandClassFrame in a SendData request targeting
// node and submits it as a transaction. This is the only place the core
// speaks a node-directed wire format; per-CC payload shape is opaque here.
func (c *Controller) sendToNode(ctx context.Context, node *Node, frame CommandClassFrame, timeout time.Duration) (*TransactionHandle, error) {
	ccPayload := make([]byte, 0, 2+len(frame.Parameters))
	ccPayload = append(ccPayload, byte(frame.CommandClassId), frame.CommandId)
	ccPayload = append(ccPayload, frame.Parameters...)

	cmd := Command{
		CommandID:        funcSendData,
		ExpectsResponse:  true,
		CarriesSessionID: true,
		ParamsBuilder: func(sessionID byte) []byte {
			out := make([]byte, 0, 3+len(ccPayload))
			out = append(out, node.ID, byte(len(ccPayload)))
			out = append(out, ccPayload...)
			out = append(out, TransmitOptionACK|TransmitOptionAutoRoute|TransmitOptionExplore, sessionID)
			return out
		},
	}
	return c.tl.Submit(ctx, cmd, timeout)
}

func (d *Driver) sendToNode(ctx context.Context, node *Node, frame CommandClassFrame, timeout time.Duration) (*TransactionHandle, error) {
	return d.controller.sendToNode(ctx, node, frame, timeout)
}

// --- Node discovery, named after the zWGetNodeProtocolInfo /
// zWRequestNodeInfo vendor naming convention ---

// SerialAPIInitData is the decoded shape of FUNC_ID_SERIAL_API_GET_INIT_DATA:
// a protocol version, capability flags, and a bitmask of node IDs known to
// the controller.
type SerialAPIInitData struct {
	Version      byte
	Capabilities byte
	NodeIDs      []byte
}

func decodeSerialAPIInitData(params []byte) (SerialAPIInitData, bool) {
	if len(params) < 2 {
		return SerialAPIInitData{}, false
	}
	maskLen := len(params) // no length byte at all: take the fallback below
	if len(params) >= 3 {
		maskLen = int(params[2])
	}
	if len(params) < 3+maskLen {
		// Some controllers omit the length-prefixed form entirely; fall
		// back to treating everything after the capability byte as mask.
		maskLen = len(params) - 2
		if maskLen < 0 {
			return SerialAPIInitData{}, false
		}
		return SerialAPIInitData{Version: params[0], Capabilities: params[1], NodeIDs: nodeIDsFromBitmask(params[2:])}, true
	}
	return SerialAPIInitData{
		Version:      params[0],
		Capabilities: params[1],
		NodeIDs:      nodeIDsFromBitmask(params[3 : 3+maskLen]),
	}, true
}

func nodeIDsFromBitmask(mask []byte) []byte {
	var ids []byte
	for byteIdx, b := range mask {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) != 0 {
				id := byte(byteIdx*8 + bit + 1)
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// GetSerialAPIInitData queries the controller for its node-ID bitmask and
// reconciles the node table against it.
func (c *Controller) GetSerialAPIInitData(ctx context.Context) (SerialAPIInitData, error) {
	cmd := Command{
		CommandID:       funcSerialAPIGetInitData,
		ExpectsResponse: true,
		ParamsBuilder:   func(byte) []byte { return nil },
	}
	handle, err := c.tl.Submit(ctx, cmd, defaultCommandTimeout)
	if err != nil {
		return SerialAPIInitData{}, err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return SerialAPIInitData{}, err
	}
	data, ok := decodeSerialAPIInitData(result.Response)
	if !ok {
		return SerialAPIInitData{}, fmt.Errorf("zwave: malformed SerialAPIInitData response")
	}
	c.nodes.reconcile(data.NodeIDs, c.driver)
	return data, nil
}

// NodeProtocolInfo is the decoded shape of FUNC_ID_ZW_GET_NODE_PROTOCOL_INFO.
type NodeProtocolInfo struct {
	IsListening           bool
	IsRouting             bool
	SupportedSpeeds       []uint32
	ProtocolVersion       byte
	FrequentListeningMode bool
	SupportsBeaming       bool
	SupportsSecurity      bool
	BasicDeviceClass      byte
	GenericDeviceClass    byte
	SpecificDeviceClass   byte
}

func decodeNodeProtocolInfo(params []byte) (NodeProtocolInfo, bool) {
	if len(params) < 6 {
		return NodeProtocolInfo{}, false
	}
	capability := params[0]
	security := params[1]
	return NodeProtocolInfo{
		IsListening:           capability&0x80 != 0,
		IsRouting:             capability&0x40 != 0,
		ProtocolVersion:       capability & 0x07,
		SupportedSpeeds:       decodeSupportedSpeeds(capability),
		FrequentListeningMode: security&0x60 != 0,
		SupportsBeaming:       security&0x10 != 0,
		SupportsSecurity:      security&0x01 != 0,
		BasicDeviceClass:      params[3],
		GenericDeviceClass:    params[4],
		SpecificDeviceClass:   params[5],
	}, true
}

func decodeSupportedSpeeds(capability byte) []uint32 {
	speeds := []uint32{9600} // 9.6kbps is always supported
	if capability&0x10 != 0 {
		speeds = append(speeds, 40000)
	}
	if capability&0x08 != 0 {
		speeds = append(speeds, 100000)
	}
	return speeds
}

// GetNodeProtocolInfo queries capability and device-class bytes for
// nodeID and applies them to the node's static fields.
func (c *Controller) GetNodeProtocolInfo(ctx context.Context, nodeID byte) (NodeProtocolInfo, error) {
	cmd := Command{
		CommandID:       funcGetNodeProtocolInfo,
		ExpectsResponse: true,
		ParamsBuilder:   func(byte) []byte { return []byte{nodeID} },
	}
	handle, err := c.tl.Submit(ctx, cmd, defaultCommandTimeout)
	if err != nil {
		return NodeProtocolInfo{}, err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return NodeProtocolInfo{}, err
	}
	info, ok := decodeNodeProtocolInfo(result.Response)
	if !ok {
		return NodeProtocolInfo{}, fmt.Errorf("zwave: malformed NodeProtocolInfo response for node %d", nodeID)
	}

	if node := c.nodes.get(nodeID); node != nil {
		node.IsListening = info.IsListening
		node.IsRouting = info.IsRouting
		node.SupportedSpeeds = info.SupportedSpeeds
		node.ProtocolVersion = info.ProtocolVersion
		node.FrequentListeningMode = info.FrequentListeningMode
		node.SupportsBeaming = info.SupportsBeaming
		node.SupportsSecurity = info.SupportsSecurity
	}
	return info, nil
}

// RequestNodeInfo asks the controller for the node's supported Command Class
// list, reads that list from the RES frame's parameters (no session ID, no
// callback), and attaches a CommandClass instance (via the registry) for
// each reported ID. Controlled/secure flags and device-specific
// CC variance are a simplification noted in the design ledger.
func (c *Controller) RequestNodeInfo(ctx context.Context, nodeID byte) error {
	node := c.nodes.get(nodeID)
	if node == nil {
		return ErrNodeNotFound
	}

	cmd := Command{
		CommandID:        funcRequestNodeInfo,
		ExpectsResponse:  true,
		CarriesSessionID: false,
		ParamsBuilder:    func(byte) []byte { return []byte{nodeID} },
	}
	handle, err := c.tl.Submit(ctx, cmd, defaultCommandTimeout)
	if err != nil {
		return err
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		return err
	}

	classes := make(map[CommandClassId]CommandClassInfo, len(result.Response))
	for _, raw := range result.Response {
		id := CommandClassId(raw)
		classes[id] = CommandClassInfo{Id: id, IsSupported: true}
	}

	node.mu.Lock()
	node.commandClasses = classes
	node.commandClassInstances = make(map[CommandClassId]CommandClass, len(classes))
	for ccID, info := range classes {
		node.commandClassInstances[ccID] = instantiateCommandClass(info, c.driver, node)
	}
	node.mu.Unlock()

	return nil
}
