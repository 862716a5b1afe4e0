package zwave

import (
	"context"
	"sync"
)

const (
	cmdManufacturerSpecificGet    byte = 0x04
	cmdManufacturerSpecificReport byte = 0x05
)

func init() {
	RegisterCommandClass(CommandClassManufacturerSpecific, func(info CommandClassInfo, driver *Driver, node *Node) CommandClass {
		return &ManufacturerSpecificCommandClass{BaseCommandClass: NewBaseCommandClass(info, driver, node)}
	})
}

// ManufacturerSpecificCommandClass caches the node's manufacturer, product
// type, and product IDs, learned once at interview time — they do not
// change for the node's lifetime.
type ManufacturerSpecificCommandClass struct {
	BaseCommandClass

	mu            sync.RWMutex
	manufacturerID uint16
	productTypeID  uint16
	productID      uint16
	learned        bool
}

func (m *ManufacturerSpecificCommandClass) IsCommandSupported(cmd byte) *bool {
	supported := cmd == cmdManufacturerSpecificGet
	return &supported
}

func (m *ManufacturerSpecificCommandClass) Interview(ctx context.Context) error {
	report, err := m.sendAndAwaitReport(ctx, cmdManufacturerSpecificGet, nil, cmdManufacturerSpecificReport, nil, 0)
	if err != nil {
		return err
	}
	m.applyReport(report)
	return nil
}

// applyReport parses manufacturerId(2) | productTypeId(2) | productId(2).
// No optional fields exist at any known version, but the length check is
// kept for the same forward-compatibility discipline as every other CC.
func (m *ManufacturerSpecificCommandClass) applyReport(frame CommandClassFrame) {
	p := frame.Parameters
	if len(p) < 6 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manufacturerID = uint16(p[0])<<8 | uint16(p[1])
	m.productTypeID = uint16(p[2])<<8 | uint16(p[3])
	m.productID = uint16(p[4])<<8 | uint16(p[5])
	m.learned = true
}

func (m *ManufacturerSpecificCommandClass) ProcessReceived(frame CommandClassFrame) {
	if frame.CommandId == cmdManufacturerSpecificReport {
		m.applyReport(frame)
	}
}

// IDs returns the cached manufacturer/product identifiers and whether they
// have been learned yet.
func (m *ManufacturerSpecificCommandClass) IDs() (manufacturerID, productTypeID, productID uint16, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manufacturerID, m.productTypeID, m.productID, m.learned
}
