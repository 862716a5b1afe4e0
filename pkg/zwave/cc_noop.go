package zwave

import "context"

func init() {
	RegisterCommandClass(CommandClassNoOperation, func(info CommandClassInfo, driver *Driver, node *Node) CommandClass {
		return &NoOperationCommandClass{BaseCommandClass: NewBaseCommandClass(info, driver, node)}
	})
}

// NoOperationCommandClass is the trivial liveness-check CC: it carries no
// commands, so its frame has command ID 0 and no parameters.
type NoOperationCommandClass struct {
	BaseCommandClass
}

func (n *NoOperationCommandClass) IsCommandSupported(byte) *bool {
	supported := true
	return &supported
}

// Interview sends a single No Operation frame to confirm reachability;
// there is no report to await.
func (n *NoOperationCommandClass) Interview(ctx context.Context) error {
	handle, err := n.sendCommand(ctx, CommandClassFrame{CommandClassId: n.Info().Id}, 0)
	if err != nil {
		return err
	}
	_, err = handle.Wait(ctx)
	return err
}

func (n *NoOperationCommandClass) ProcessReceived(CommandClassFrame) {}
