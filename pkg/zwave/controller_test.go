package zwave

import "testing"

func TestNodeIDsFromBitmask(t *testing.T) {
	// Bit 0 of byte 0 is node 1, bit 1 is node 2, etc.
	mask := []byte{0b00000011, 0b00000001} // nodes 1, 2, 9
	ids := nodeIDsFromBitmask(mask)

	want := map[byte]bool{1: true, 2: true, 9: true}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want 3 ids", ids)
	}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected node id %d in %v", id, ids)
		}
	}
}

func TestDecodeNodeProtocolInfo(t *testing.T) {
	// capability: listening|routing, protocolVersion=2
	capability := byte(0x80 | 0x40 | 0x02)
	security := byte(0x10 | 0x01) // beaming + security
	params := []byte{capability, security, 0x00, 0x02, 0x10, 0x01}

	info, ok := decodeNodeProtocolInfo(params)
	if !ok {
		t.Fatal("decode failed")
	}
	if !info.IsListening || !info.IsRouting {
		t.Fatalf("got %+v, want listening+routing", info)
	}
	if info.ProtocolVersion != 0x02 {
		t.Fatalf("got protocol version %d, want 2", info.ProtocolVersion)
	}
	if !info.SupportsBeaming || !info.SupportsSecurity {
		t.Fatalf("got %+v, want beaming+security", info)
	}
	if info.BasicDeviceClass != 0x02 || info.GenericDeviceClass != 0x10 || info.SpecificDeviceClass != 0x01 {
		t.Fatalf("got device classes %+v", info)
	}
}

func TestDecodeNodeProtocolInfoTruncated(t *testing.T) {
	if _, ok := decodeNodeProtocolInfo([]byte{0x01, 0x02}); ok {
		t.Fatal("expected decode failure for truncated response")
	}
}
