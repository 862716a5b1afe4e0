package zwave

import "testing"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hexDecodeSpaced(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestAssignReturnRouteRoundTrip(t *testing.T) {
	req := AssignReturnRouteRequest{Source: 2, Destination: 1, SessionID: 3}
	got := req.encode()
	want := mustHex(t, "02 01 03")
	if string(got) != string(want) {
		t.Fatalf("encode: got % X, want % X", got, want)
	}

	result, ok := decodeAssignReturnRouteCallback(mustHex(t, "03 00"))
	if !ok {
		t.Fatal("decode failed")
	}
	if result.SessionID != 3 || result.Status != TransmitStatusOk {
		t.Fatalf("got %+v, want {SessionID:3 Status:Ok}", result)
	}
}

func TestSendDataMultiRoundTrip(t *testing.T) {
	req := SendDataMultiRequest{
		NodeList:  []byte{2, 3},
		Data:      []byte{0x25, 0x01},
		TxOptions: TransmitOptionACK | TransmitOptionAutoRoute,
		SessionID: 1,
	}
	got := req.encode()
	want := mustHex(t, "02 02 03 02 25 01 05 01")
	if string(got) != string(want) {
		t.Fatalf("encode: got % X, want % X", got, want)
	}

	result, ok := decodeSendDataMultiCallback(mustHex(t, "01 00"))
	if !ok {
		t.Fatal("decode failed")
	}
	if result.SessionID != 1 || result.Status != TransmitStatusOk {
		t.Fatalf("got %+v, want {SessionID:1 Status:Ok}", result)
	}
}

func TestIsFailedNodeRoundTrip(t *testing.T) {
	req := IsFailedNodeRequest{NodeID: 5}
	got := req.encode()
	want := mustHex(t, "05")
	if string(got) != string(want) {
		t.Fatalf("encode: got % X, want % X", got, want)
	}

	isFailed, ok := decodeIsFailedNodeResponse(mustHex(t, "01"))
	if !ok || !isFailed {
		t.Fatalf("got (%v,%v), want (true,true)", isFailed, ok)
	}
}

func TestMemoryGetByteRoundTrip(t *testing.T) {
	req := MemoryGetByteRequest{Offset: 0x1234}
	got := req.encode()
	want := mustHex(t, "12 34")
	if string(got) != string(want) {
		t.Fatalf("encode: got % X, want % X", got, want)
	}

	value, ok := decodeMemoryGetByteResponse(mustHex(t, "AB"))
	if !ok || value != 0xAB {
		t.Fatalf("got (0x%02X,%v), want (0xAB,true)", value, ok)
	}
}

func TestRandomRoundTrip(t *testing.T) {
	req := RandomRequest{Count: 5}
	got := req.encode()
	want := mustHex(t, "05")
	if string(got) != string(want) {
		t.Fatalf("encode: got % X, want % X", got, want)
	}

	result, ok := decodeRandomResponse(mustHex(t, "01 05 11 22 33 44 55"))
	if !ok {
		t.Fatal("decode failed")
	}
	if !result.Success || result.Count != 5 {
		t.Fatalf("got %+v, want Success=true Count=5", result)
	}
	wantBytes := mustHex(t, "11 22 33 44 55")
	if string(result.Bytes) != string(wantBytes) {
		t.Fatalf("bytes: got % X, want % X", result.Bytes, wantBytes)
	}
}

func TestApplicationCommandHandlerBridgeDecode(t *testing.T) {
	frame, ok := decodeApplicationCommandHandlerBridge(mustHex(t, "00 01 05 03 25 03 FF D5"))
	if !ok {
		t.Fatal("decode failed")
	}
	if frame.ReceivedStatus != 0 || frame.DestNode != 1 || frame.SourceNode != 5 {
		t.Fatalf("got %+v", frame)
	}
	wantPayload := mustHex(t, "25 03 FF")
	if string(frame.Payload) != string(wantPayload) {
		t.Fatalf("payload: got % X, want % X", frame.Payload, wantPayload)
	}
	if frame.RSSI != -43 {
		t.Fatalf("rssi: got %d, want -43", frame.RSSI)
	}
}

func TestNvmExtReadLongBufferRoundTrip(t *testing.T) {
	req := NvmExtReadLongBufferRequest{Offset: 0x001234, Length: 5}
	got := req.encode()
	want := mustHex(t, "00 12 34 00 05")
	if string(got) != string(want) {
		t.Fatalf("encode: got % X, want % X", got, want)
	}

	result, ok := decodeNvmExtReadLongBufferResponse(mustHex(t, "AA BB CC 00"))
	if !ok {
		t.Fatal("decode failed")
	}
	wantData := mustHex(t, "AA BB CC")
	if string(result.Data) != string(wantData) {
		t.Fatalf("data: got % X, want % X", result.Data, wantData)
	}
	if result.Status != NvmReadStatusSuccess {
		t.Fatalf("status: got %v, want Success", result.Status)
	}
}
