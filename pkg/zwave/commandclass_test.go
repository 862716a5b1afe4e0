package zwave

import "testing"

func TestEffectiveVersionDefaultsToOne(t *testing.T) {
	var b BaseCommandClass
	if got := b.EffectiveVersion(); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	if b.Version() != nil {
		t.Fatal("expected nil version before learning one")
	}
}

func TestEffectiveVersionAfterSetVersion(t *testing.T) {
	var b BaseCommandClass
	b.SetVersion(3)
	if got := b.EffectiveVersion(); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}

	// A later disagreeing observation is ignored, not applied.
	b.SetVersion(5)
	if got := b.EffectiveVersion(); got != 3 {
		t.Fatalf("got %d after disagreeing re-observation, want 3 unchanged", got)
	}
}

func TestNotImplementedCommandClassSentinel(t *testing.T) {
	cc := instantiateCommandClass(CommandClassInfo{Id: 0xEF}, nil, &Node{ID: 1})

	if cc.Version() != nil {
		t.Fatal("expected nil version")
	}
	if got := cc.IsCommandSupported(0x01); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
	if deps := cc.Dependencies(); deps != nil {
		t.Fatalf("got %v, want nil dependencies", deps)
	}
	// Must not panic.
	cc.ProcessReceived(CommandClassFrame{CommandClassId: 0xEF, CommandId: 0x01})
}

func TestRegisteredCommandClassesConstructViaRegistry(t *testing.T) {
	node := &Node{ID: 9}
	for _, id := range []CommandClassId{CommandClassNoOperation, CommandClassBinarySwitch, CommandClassManufacturerSpecific, CommandClassVersion} {
		cc := instantiateCommandClass(CommandClassInfo{Id: id}, nil, node)
		if cc.Info().Id != id {
			t.Fatalf("cc %v: Info().Id = %v", id, cc.Info().Id)
		}
	}
}
