package zwave

import "testing"

func newBinarySwitchCC() *BinarySwitchCommandClass {
	node := &Node{ID: 1}
	return &BinarySwitchCommandClass{BaseCommandClass: NewBaseCommandClass(CommandClassInfo{Id: CommandClassBinarySwitch}, nil, node)}
}

func TestBinarySwitchApplyReportOnOff(t *testing.T) {
	s := newBinarySwitchCC()

	s.applyReport(CommandClassFrame{Parameters: []byte{binarySwitchValueOn}})
	if v, ok := s.Value(); !ok || !v {
		t.Fatalf("got (%v, %v), want (true, true)", v, ok)
	}

	s.applyReport(CommandClassFrame{Parameters: []byte{binarySwitchValueOff}})
	if v, ok := s.Value(); !ok || v {
		t.Fatalf("got (%v, %v), want (false, true)", v, ok)
	}
}

func TestBinarySwitchApplyReportOutOfRangeLeavesCacheUnchanged(t *testing.T) {
	s := newBinarySwitchCC()

	s.applyReport(CommandClassFrame{Parameters: []byte{binarySwitchValueOn}})

	s.applyReport(CommandClassFrame{Parameters: []byte{0x42}})

	v, ok := s.Value()
	if !ok || !v {
		t.Fatalf("out-of-range report value mutated cache: got (%v, %v), want (true, true)", v, ok)
	}
}

func TestBinarySwitchApplyReportEmptyPayloadLeavesCacheUnchanged(t *testing.T) {
	s := newBinarySwitchCC()

	if _, ok := s.Value(); ok {
		t.Fatal("expected no cached value before any report")
	}

	s.applyReport(CommandClassFrame{Parameters: nil})

	if _, ok := s.Value(); ok {
		t.Fatal("empty-payload report should not populate cache")
	}
}
