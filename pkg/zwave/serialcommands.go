package zwave

// Controller-level Serial API function IDs this driver speaks directly,
// independent of any Command Class. Values follow the vendor Serial API
// function-ID convention.
const (
	funcAssignReturnRoute              byte = 0x46
	funcSendDataMulti                  byte = 0x14
	funcIsFailedNode                   byte = 0x62
	funcMemoryGetByte                  byte = 0x21
	funcRandom                         byte = 0x1C
	funcApplicationCommandHandlerBridge byte = 0xA8
	funcNvmExtReadLongBuffer           byte = 0x4D
)

// TransmitStatus is the single status byte carried by most send-type
// callbacks.
type TransmitStatus byte

const (
	TransmitStatusOk   TransmitStatus = 0x00
	TransmitStatusFail TransmitStatus = 0x01
)

func decodeTransmitStatus(b byte) TransmitStatus {
	if b == 0x00 {
		return TransmitStatusOk
	}
	return TransmitStatusFail
}

// Transmit option bits used by SendData-family requests.
const (
	TransmitOptionACK       byte = 0x01
	TransmitOptionAutoRoute byte = 0x04
	TransmitOptionExplore   byte = 0x20
)

// --- AssignReturnRoute ---

type AssignReturnRouteRequest struct {
	Source, Destination, SessionID byte
}

func (r AssignReturnRouteRequest) encode() []byte {
	return []byte{r.Source, r.Destination, r.SessionID}
}

type AssignReturnRouteResult struct {
	SessionID byte
	Status    TransmitStatus
}

func decodeAssignReturnRouteCallback(params []byte) (AssignReturnRouteResult, bool) {
	if len(params) < 2 {
		return AssignReturnRouteResult{}, false
	}
	return AssignReturnRouteResult{SessionID: params[0], Status: decodeTransmitStatus(params[1])}, true
}

// NewAssignReturnRouteCommand builds the Command for a routed priority-route
// assignment. req.SessionID is the caller's chosen correlator and is echoed
// back unmodified; the Transaction Layer's own session allocation is not
// involved since the correlator here travels in the payload, not the frame.
func NewAssignReturnRouteCommand(req AssignReturnRouteRequest) Command {
	return Command{
		CommandID:        funcAssignReturnRoute,
		ExpectsResponse:  true,
		CarriesSessionID: false,
		ParamsBuilder:    func(byte) []byte { return req.encode() },
	}
}

// --- SendDataMulti ---

type SendDataMultiRequest struct {
	NodeList  []byte
	Data      []byte
	TxOptions byte
	SessionID byte
}

func (r SendDataMultiRequest) encode() []byte {
	out := make([]byte, 0, 2+len(r.NodeList)+len(r.Data)+2)
	out = append(out, byte(len(r.NodeList)))
	out = append(out, r.NodeList...)
	out = append(out, byte(len(r.Data)))
	out = append(out, r.Data...)
	out = append(out, r.TxOptions, r.SessionID)
	return out
}

type SendDataMultiResult struct {
	SessionID byte
	Status    TransmitStatus
}

func decodeSendDataMultiCallback(params []byte) (SendDataMultiResult, bool) {
	if len(params) < 2 {
		return SendDataMultiResult{}, false
	}
	return SendDataMultiResult{SessionID: params[0], Status: decodeTransmitStatus(params[1])}, true
}

func NewSendDataMultiCommand(req SendDataMultiRequest) Command {
	return Command{
		CommandID:        funcSendDataMulti,
		ExpectsResponse:  true,
		CarriesSessionID: false,
		ParamsBuilder:    func(byte) []byte { return req.encode() },
	}
}

// --- IsFailedNode ---

type IsFailedNodeRequest struct {
	NodeID byte
}

func (r IsFailedNodeRequest) encode() []byte { return []byte{r.NodeID} }

func decodeIsFailedNodeResponse(params []byte) (isFailed bool, ok bool) {
	if len(params) < 1 {
		return false, false
	}
	return params[0] != 0x00, true
}

func NewIsFailedNodeCommand(req IsFailedNodeRequest) Command {
	return Command{
		CommandID:       funcIsFailedNode,
		ExpectsResponse: true,
		ParamsBuilder:   func(byte) []byte { return req.encode() },
	}
}

// --- MemoryGetByte ---

type MemoryGetByteRequest struct {
	Offset uint16
}

func (r MemoryGetByteRequest) encode() []byte {
	return []byte{byte(r.Offset >> 8), byte(r.Offset)}
}

func decodeMemoryGetByteResponse(params []byte) (value byte, ok bool) {
	if len(params) < 1 {
		return 0, false
	}
	return params[0], true
}

func NewMemoryGetByteCommand(req MemoryGetByteRequest) Command {
	return Command{
		CommandID:       funcMemoryGetByte,
		ExpectsResponse: true,
		ParamsBuilder:   func(byte) []byte { return req.encode() },
	}
}

// --- Random ---

type RandomRequest struct {
	Count byte
}

func (r RandomRequest) encode() []byte { return []byte{r.Count} }

type RandomResult struct {
	Success bool
	Count   byte
	Bytes   []byte
}

func decodeRandomResponse(params []byte) (RandomResult, bool) {
	if len(params) < 2 {
		return RandomResult{}, false
	}
	count := params[1]
	if len(params) < 2+int(count) {
		return RandomResult{}, false
	}
	return RandomResult{
		Success: params[0] != 0x00,
		Count:   count,
		Bytes:   append([]byte(nil), params[2:2+int(count)]...),
	}, true
}

func NewRandomCommand(req RandomRequest) Command {
	return Command{
		CommandID:       funcRandom,
		ExpectsResponse: true,
		ParamsBuilder:   func(byte) []byte { return req.encode() },
	}
}

// --- ApplicationCommandHandlerBridge (unsolicited, REQ with no session) ---

// ApplicationCommandHandlerFrame is the decoded shape of an unsolicited
// inbound application frame, Bridge variant. Non-Bridge controllers omit
// DestNode and RSSI.
type ApplicationCommandHandlerFrame struct {
	ReceivedStatus byte
	DestNode       byte
	SourceNode     byte
	Payload        []byte
	RSSI           int8
}

// decodeApplicationCommandHandlerBridge parses the Bridge-variant layout:
// receivedStatus, destNode, srcNode, payloadLen, payload…, rssi.
func decodeApplicationCommandHandlerBridge(params []byte) (ApplicationCommandHandlerFrame, bool) {
	if len(params) < 4 {
		return ApplicationCommandHandlerFrame{}, false
	}
	payloadLen := int(params[3])
	want := 4 + payloadLen + 1
	if len(params) < want {
		return ApplicationCommandHandlerFrame{}, false
	}
	return ApplicationCommandHandlerFrame{
		ReceivedStatus: params[0],
		DestNode:       params[1],
		SourceNode:     params[2],
		Payload:        append([]byte(nil), params[4:4+payloadLen]...),
		RSSI:           int8(params[4+payloadLen]),
	}, true
}

// --- NvmExtReadLongBuffer ---

type NvmExtReadLongBufferRequest struct {
	Offset uint32 // 24-bit
	Length uint16
}

func (r NvmExtReadLongBufferRequest) encode() []byte {
	return []byte{
		byte(r.Offset >> 16), byte(r.Offset >> 8), byte(r.Offset),
		byte(r.Length >> 8), byte(r.Length),
	}
}

type NvmReadStatus byte

const (
	NvmReadStatusSuccess NvmReadStatus = 0x00
	NvmReadStatusError   NvmReadStatus = 0x01
)

type NvmExtReadLongBufferResult struct {
	Data   []byte
	Status NvmReadStatus
}

func decodeNvmExtReadLongBufferResponse(params []byte) (NvmExtReadLongBufferResult, bool) {
	if len(params) < 1 {
		return NvmExtReadLongBufferResult{}, false
	}
	status := params[len(params)-1]
	return NvmExtReadLongBufferResult{
		Data:   append([]byte(nil), params[:len(params)-1]...),
		Status: NvmReadStatus(status),
	}, true
}

func NewNvmExtReadLongBufferCommand(req NvmExtReadLongBufferRequest) Command {
	return Command{
		CommandID:       funcNvmExtReadLongBuffer,
		ExpectsResponse: true,
		ParamsBuilder:   func(byte) []byte { return req.encode() },
	}
}
