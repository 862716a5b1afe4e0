package zwave

import (
	"context"
	"testing"
)

type fakeCC struct {
	id   CommandClassId
	deps []CommandClassId
}

func (f *fakeCC) Info() CommandClassInfo           { return CommandClassInfo{Id: f.id} }
func (f *fakeCC) Version() *uint8                  { return nil }
func (f *fakeCC) EffectiveVersion() uint8           { return 1 }
func (f *fakeCC) SetVersion(uint8)                 {}
func (f *fakeCC) IsCommandSupported(byte) *bool     { return nil }
func (f *fakeCC) Interview(context.Context) error   { return nil }
func (f *fakeCC) ProcessReceived(CommandClassFrame) {}
func (f *fakeCC) Dependencies() []CommandClassId    { return f.deps }

func nodeWithCCs(ccs ...*fakeCC) *Node {
	instances := make(map[CommandClassId]CommandClass, len(ccs))
	for _, cc := range ccs {
		instances[cc.id] = cc
	}
	return &Node{commandClassInstances: instances}
}

func indexOf(order []CommandClassId, id CommandClassId) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestTopoOrderVersionAlwaysFirst(t *testing.T) {
	node := nodeWithCCs(
		&fakeCC{id: CommandClassNoOperation, deps: nil},
		&fakeCC{id: CommandClassBinarySwitch, deps: []CommandClassId{CommandClassVersion}},
		&fakeCC{id: CommandClassManufacturerSpecific, deps: []CommandClassId{CommandClassVersion}},
		&fakeCC{id: CommandClassVersion, deps: nil},
	)

	order := topoOrder(node)
	if len(order) != 4 {
		t.Fatalf("got %d entries, want 4", len(order))
	}
	if order[0] != CommandClassVersion {
		t.Fatalf("got first=%v, want Version", order[0])
	}
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	const ccA CommandClassId = 0x20
	const ccB CommandClassId = 0x30

	node := nodeWithCCs(
		&fakeCC{id: ccB, deps: []CommandClassId{ccA}},
		&fakeCC{id: ccA, deps: nil},
	)

	order := topoOrder(node)
	if indexOf(order, ccA) >= indexOf(order, ccB) {
		t.Fatalf("got order %v, want ccA before ccB", order)
	}
}

func TestTopoOrderBreaksCycles(t *testing.T) {
	const ccA CommandClassId = 0x20
	const ccB CommandClassId = 0x30

	node := nodeWithCCs(
		&fakeCC{id: ccA, deps: []CommandClassId{ccB}},
		&fakeCC{id: ccB, deps: []CommandClassId{ccA}},
	)

	order := topoOrder(node)
	if len(order) != 2 {
		t.Fatalf("got %d entries, want 2 (cycle should still fully order, just with a dropped back-edge)", len(order))
	}
}

func TestTopoOrderStableTieBreak(t *testing.T) {
	const ccHigh CommandClassId = 0x90
	const ccLow CommandClassId = 0x10

	node := nodeWithCCs(
		&fakeCC{id: ccHigh, deps: nil},
		&fakeCC{id: ccLow, deps: nil},
	)

	order := topoOrder(node)
	if order[0] != ccLow || order[1] != ccHigh {
		t.Fatalf("got %v, want numeric ascending [0x10 0x90]", order)
	}
}
