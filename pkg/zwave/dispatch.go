package zwave

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// UnsolicitedHandler processes a REQ frame whose command ID is registered
// for unsolicited delivery rather than transaction correlation, e.g. ApplicationCommandHandler[Bridge].
type UnsolicitedHandler func(params []byte)

// ReceiveDispatcher classifies frames coming off a LinkLayer and routes
// them to the TransactionLayer or to a registered unsolicited handler. It
// runs a single loop over LinkLayer.Frames() so frame arrival order is
// preserved end to end.
type ReceiveDispatcher struct {
	link *LinkLayer
	tl   *TransactionLayer

	handlersMu sync.RWMutex
	handlers   map[byte]UnsolicitedHandler

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewReceiveDispatcher wires a dispatcher over an already-running LinkLayer
// and its TransactionLayer. RegisterUnsolicitedHandler must be called
// before Start for handlers that must not race the first inbound frame.
func NewReceiveDispatcher(link *LinkLayer, tl *TransactionLayer) *ReceiveDispatcher {
	return &ReceiveDispatcher{
		link:     link,
		tl:       tl,
		handlers: make(map[byte]UnsolicitedHandler),
		stopCh:   make(chan struct{}),
	}
}

// RegisterUnsolicitedHandler associates commandID (typically
// ApplicationCommandHandler or its Bridge variant) with h. Only one handler
// may own a given command ID.
func (d *ReceiveDispatcher) RegisterUnsolicitedHandler(commandID byte, h UnsolicitedHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.handlers[commandID] = h
}

// Start runs the dispatch loop in a new goroutine until Close is called.
func (d *ReceiveDispatcher) Start() {
	go d.loop()
}

// Close stops the dispatch loop.
func (d *ReceiveDispatcher) Close() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

func (d *ReceiveDispatcher) loop() {
	for {
		select {
		case <-d.stopCh:
			return
		case frame, ok := <-d.link.Frames():
			if !ok {
				return
			}
			d.dispatch(frame)
		}
	}
}

func (d *ReceiveDispatcher) dispatch(frame Frame) {
	if frame.Type == FrameTypeRES {
		if !d.tl.CompleteResponse(frame.CommandID, frame.Parameters) {
			log.Warn().Uint8("commandID", frame.CommandID).Msg("zwave dispatch: unmatched RES, dropping")
		}
		return
	}

	d.handlersMu.RLock()
	handler, hasHandler := d.handlers[frame.CommandID]
	d.handlersMu.RUnlock()
	if hasHandler {
		handler(frame.Parameters)
		return
	}

	if len(frame.Parameters) == 0 {
		log.Warn().Uint8("commandID", frame.CommandID).Msg("zwave dispatch: REQ callback with no session byte, dropping")
		return
	}
	sessionID := frame.Parameters[0]
	if !d.tl.DeliverCallback(sessionID, frame.Parameters) {
		log.Warn().Uint8("sessionID", sessionID).Msg("zwave dispatch: unmatched callback, dropping")
	}
}
