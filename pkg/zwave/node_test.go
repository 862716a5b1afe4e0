package zwave

import (
	"context"
	"testing"
	"time"
)

func TestNodeAwaitApplicationFrameResolves(t *testing.T) {
	n := &Node{}

	resultCh := make(chan CommandClassFrame, 1)
	go func() {
		frame, err := n.awaitApplicationFrame(context.Background(), CommandClassBinarySwitch, cmdBinarySwitchReport, nil)
		if err == nil {
			resultCh <- frame
		}
	}()

	// Give the waiter a moment to register before dispatching.
	time.Sleep(10 * time.Millisecond)
	n.dispatchApplicationFrame(CommandClassFrame{CommandClassId: CommandClassBinarySwitch, CommandId: cmdBinarySwitchReport, Parameters: []byte{0xFF}})

	select {
	case frame := <-resultCh:
		if len(frame.Parameters) != 1 || frame.Parameters[0] != 0xFF {
			t.Fatalf("got %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolved frame")
	}
}

func TestNodeAwaitApplicationFrameCancelLeavesNoWaiter(t *testing.T) {
	n := &Node{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := n.awaitApplicationFrame(ctx, CommandClassBinarySwitch, cmdBinarySwitchReport, func(CommandClassFrame) bool { return false })
	if err == nil {
		t.Fatal("expected context deadline error")
	}

	n.waitersMu.Lock()
	remaining := len(n.waiters)
	n.waitersMu.Unlock()
	if remaining != 0 {
		t.Fatalf("got %d leaked waiters, want 0", remaining)
	}
}

func TestNodeDispatchUnknownCommandClassDoesNotPanic(t *testing.T) {
	n := &Node{commandClassInstances: map[CommandClassId]CommandClass{}}
	n.dispatchApplicationFrame(CommandClassFrame{CommandClassId: 0x99, CommandId: 0x01})
}

func TestNodeTableReconcileRemovesStaleNodes(t *testing.T) {
	table := newNodeTable()
	table.set(&Node{ID: 2})
	table.set(&Node{ID: 3})

	table.reconcile([]byte{2, 5}, nil)

	if table.get(3) != nil {
		t.Fatal("node 3 should have been removed")
	}
	if table.get(2) == nil {
		t.Fatal("node 2 should remain")
	}
	if table.get(5) == nil {
		t.Fatal("node 5 should have been created")
	}
}
