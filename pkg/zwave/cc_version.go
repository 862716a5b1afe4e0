package zwave

import (
	"context"
	"sync"
)

// Version Command Class command IDs.
const (
	cmdVersionGet               byte = 0x11
	cmdVersionReport            byte = 0x12
	cmdVersionCommandClassGet   byte = 0x13
	cmdVersionCommandClassReport byte = 0x14
)

func init() {
	RegisterCommandClass(CommandClassVersion, func(info CommandClassInfo, driver *Driver, node *Node) CommandClass {
		return &VersionCommandClass{BaseCommandClass: NewBaseCommandClass(info, driver, node)}
	})
}

// VersionCommandClass reports the device's library/protocol/application
// version and, for every other Command Class on the node, that CC's
// version — which it writes into the sibling instance's version field
// before that instance's own Interview runs.
type VersionCommandClass struct {
	BaseCommandClass

	mu              sync.RWMutex
	libraryType     byte
	protocolVersion byte
	appVersion      byte
}

// Dependencies is empty: Version is always interviewed first.
func (v *VersionCommandClass) Dependencies() []CommandClassId { return nil }

func (v *VersionCommandClass) IsCommandSupported(cmd byte) *bool {
	supported := cmd == cmdVersionGet || cmd == cmdVersionCommandClassGet
	return &supported
}

func (v *VersionCommandClass) Interview(ctx context.Context) error {
	report, err := v.sendAndAwaitReport(ctx, cmdVersionGet, nil, cmdVersionReport, nil, 0)
	if err == nil {
		v.applyVersionReport(report)
	}

	n := v.node()
	if n == nil {
		return err
	}

	for _, ccID := range n.orderedCommandClassIDs() {
		if ccID == CommandClassVersion {
			continue
		}
		target := n.GetCommandClass(ccID)
		if target == nil {
			continue
		}

		ccReport, ccErr := v.sendAndAwaitReport(ctx, cmdVersionCommandClassGet, []byte{byte(ccID)}, cmdVersionCommandClassReport,
			func(f CommandClassFrame) bool { return len(f.Parameters) >= 2 && CommandClassId(f.Parameters[0]) == ccID }, 0)
		if ccErr != nil {
			continue // forward-compatible: a device that ignores this Get simply stays at effective version 1
		}
		if len(ccReport.Parameters) >= 2 {
			target.SetVersion(ccReport.Parameters[1])
		}
	}

	return err
}

// applyVersionReport parses "library, protocolVersion, protocolSubVersion,
// appVersion, appSubVersion, …" per the payload-length forward-compatibility
// rule: only the fields present are consumed.
func (v *VersionCommandClass) applyVersionReport(frame CommandClassFrame) {
	p := frame.Parameters
	if len(p) < 3 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.libraryType = p[0]
	v.protocolVersion = p[1]
	if len(p) >= 4 {
		v.appVersion = p[3]
	}
}

func (v *VersionCommandClass) ProcessReceived(frame CommandClassFrame) {
	if frame.CommandId == cmdVersionReport {
		v.applyVersionReport(frame)
	}
}

func (v *VersionCommandClass) LibraryType() byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.libraryType
}
