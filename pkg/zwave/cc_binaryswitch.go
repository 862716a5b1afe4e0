package zwave

import (
	"context"
	"sync"
)

const (
	cmdBinarySwitchSet    byte = 0x01
	cmdBinarySwitchGet    byte = 0x02
	cmdBinarySwitchReport byte = 0x03
)

const (
	binarySwitchValueOff byte = 0x00
	binarySwitchValueOn  byte = 0xFF
)

func init() {
	RegisterCommandClass(CommandClassBinarySwitch, func(info CommandClassInfo, driver *Driver, node *Node) CommandClass {
		return &BinarySwitchCommandClass{BaseCommandClass: NewBaseCommandClass(info, driver, node)}
	})
}

// BinarySwitchCommandClass controls and caches a single on/off actuator.
// Version 2 adds a trailing duration byte to Report; the extra byte is
// detected by payload length, never by EffectiveVersion.
type BinarySwitchCommandClass struct {
	BaseCommandClass

	mu       sync.RWMutex
	value    *bool
	duration *byte
}

func (s *BinarySwitchCommandClass) IsCommandSupported(cmd byte) *bool {
	switch cmd {
	case cmdBinarySwitchSet, cmdBinarySwitchGet:
		supported := true
		return &supported
	default:
		return nil
	}
}

func (s *BinarySwitchCommandClass) Interview(ctx context.Context) error {
	report, err := s.sendAndAwaitReport(ctx, cmdBinarySwitchGet, nil, cmdBinarySwitchReport, nil, 0)
	if err != nil {
		return err
	}
	s.applyReport(report)
	return nil
}

// Set commands the actuator on (true) or off (false) and waits for the
// transmit callback, not for a Report — callers wanting the confirmed
// state should follow with Get.
func (s *BinarySwitchCommandClass) Set(ctx context.Context, on bool) error {
	value := binarySwitchValueOff
	if on {
		value = binarySwitchValueOn
	}
	handle, err := s.sendCommand(ctx, CommandClassFrame{CommandClassId: s.Info().Id, CommandId: cmdBinarySwitchSet, Parameters: []byte{value}}, 0)
	if err != nil {
		return err
	}
	_, err = handle.Wait(ctx)
	return err
}

// Get issues a fresh query and returns the reported value.
func (s *BinarySwitchCommandClass) Get(ctx context.Context) (bool, error) {
	report, err := s.sendAndAwaitReport(ctx, cmdBinarySwitchGet, nil, cmdBinarySwitchReport, nil, 0)
	if err != nil {
		return false, err
	}
	s.applyReport(report)
	v, ok := s.Value()
	if !ok {
		return false, ErrInterviewStepFailed
	}
	return v, nil
}

func (s *BinarySwitchCommandClass) applyReport(frame CommandClassFrame) {
	p := frame.Parameters
	if len(p) < 1 {
		return
	}
	var on bool
	switch p[0] {
	case binarySwitchValueOff:
		on = false
	case binarySwitchValueOn:
		on = true
	default:
		// Outside the defined enum; leave cached state unchanged.
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = &on
	if len(p) >= 2 {
		d := p[1]
		s.duration = &d
	}
}

func (s *BinarySwitchCommandClass) ProcessReceived(frame CommandClassFrame) {
	if frame.CommandId == cmdBinarySwitchReport {
		s.applyReport(frame)
	}
}

// Value returns the cached on/off state, or false/false if never reported.
func (s *BinarySwitchCommandClass) Value() (on bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.value == nil {
		return false, false
	}
	return *s.value, true
}
