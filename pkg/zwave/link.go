package zwave

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Link layer timing constants. Declared as package-level vars so tests can shrink
// them without touching production code paths.
var (
	ackDeadline  = 1500 * time.Millisecond // time to emit ACK after a valid inbound frame
	sendDeadline = 1600 * time.Millisecond // time to wait for ACK/NAK/CAN after a send
	canBackoffLo = 100 * time.Millisecond
	canBackoffHi = 1000 * time.Millisecond
)

const linkMaxAttempts = 3

// LinkLayer owns the serial transport and speaks the single-byte control
// tokens (ACK/NAK/CAN) plus framed data exchange. Exactly
// one frame is ever in flight: Send serializes submissions with sendMu while
// the read loop runs concurrently, decoding inbound frames and routing
// control tokens back to whichever Send call is waiting on them.
type LinkLayer struct {
	transport Transport
	reader    io.Reader

	recvFrames chan Frame

	sendMu sync.Mutex
	ackCh  chan byte // routed to by the read loop while a send is outstanding

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLinkLayer creates a link layer over an already-open transport. Call
// Start to begin the read loop.
func NewLinkLayer(t Transport) *LinkLayer {
	return &LinkLayer{
		transport:  t,
		reader:     t,
		recvFrames: make(chan Frame, 16),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the background read loop.
func (l *LinkLayer) Start() {
	go l.readLoop()
}

// Close stops the read loop. It does not close the underlying transport;
// callers own that lifecycle (mirrors the Controller/Transport split).
func (l *LinkLayer) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Frames returns the channel of decoded inbound data frames, in wire arrival
// order.
func (l *LinkLayer) Frames() <-chan Frame {
	return l.recvFrames
}

// Send transmits f and runs the full link-layer retry discipline: up to
// linkMaxAttempts total attempts, retrying on NAK immediately, on CAN after a
// randomized back-off, and on ACK-wait timeout (treated as NAK). Returns
// ErrLinkFailure once attempts are exhausted. Only one Send may be in flight
// at a time; concurrent callers queue on sendMu.
func (l *LinkLayer) Send(ctx context.Context, f Frame) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	ack := make(chan byte, 1)
	l.ackCh = ack
	defer func() { l.ackCh = nil }()

	wire := EncodeFrame(f)

	for attempt := 1; attempt <= linkMaxAttempts; attempt++ {
		if _, err := l.transport.Write(wire); err != nil {
			return fmt.Errorf("%w: %w", ErrLinkFailure, &linkError{op: "write frame", err: err})
		}

		select {
		case tok := <-ack:
			switch tok {
			case tokenACK:
				return nil
			case tokenNAK:
				log.Warn().Int("attempt", attempt).Msg("zwave link: NAK received, retransmitting")
				continue
			case tokenCAN:
				log.Warn().Int("attempt", attempt).Msg("zwave link: CAN received, backing off")
				if !l.sleep(ctx, randomBackoff()) {
					return ErrCancelled
				}
				continue
			}
		case <-time.After(sendDeadline):
			log.Warn().Int("attempt", attempt).Msg("zwave link: ACK timeout, treating as NAK")
			continue
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return ErrNotConnected
		}
	}

	return ErrLinkFailure
}

func (l *LinkLayer) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-l.stopCh:
		return false
	}
}

func randomBackoff() time.Duration {
	span := canBackoffHi - canBackoffLo
	return canBackoffLo + time.Duration(rand.Int63n(int64(span)+1))
}

// readLoop continuously reads bytes from the transport, decoding framed data
// and routing single-byte control tokens to an in-flight Send call.
func (l *LinkLayer) readLoop() {
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		b, err := l.readByte()
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
			}
			log.Error().Err(err).Msg("zwave link: read error")
			return
		}

		switch b {
		case tokenACK, tokenNAK, tokenCAN:
			l.routeToken(b)
		case frameSOF:
			l.readAndDispatchFrame()
		default:
			// Stray byte outside a frame boundary; discard and resync.
			log.Debug().Uint8("byte", b).Msg("zwave link: discarding stray byte")
		}
	}
}

// routeToken delivers an ACK/NAK/CAN byte to the outstanding Send call, if
// any. A token with no waiter (e.g. a duplicate after a timeout already
// fired) is dropped.
func (l *LinkLayer) routeToken(tok byte) {
	ch := l.ackCh
	if ch == nil {
		return
	}
	select {
	case ch <- tok:
	default:
	}
}

// readAndDispatchFrame reads LEN plus the frame body following an observed
// SOF, decodes it, and on success ACKs and publishes it; on failure NAKs and
// drops it.
func (l *LinkLayer) readAndDispatchFrame() {
	lenByte, err := l.readByte()
	if err != nil {
		return
	}

	body := make([]byte, int(lenByte))
	if _, err := io.ReadFull(l.reader, body); err != nil {
		log.Warn().Err(err).Msg("zwave link: truncated frame, NAK")
		l.emitToken(tokenNAK)
		return
	}

	raw := append([]byte{frameSOF, lenByte}, body...)
	frame, err := DecodeFrame(raw)
	if err != nil {
		log.Warn().Err(err).Msg("zwave link: frame decode failed, NAK")
		l.emitToken(tokenNAK)
		return
	}

	l.emitToken(tokenACK)

	select {
	case l.recvFrames <- frame:
	case <-l.stopCh:
	}
}

func (l *LinkLayer) emitToken(tok byte) {
	if _, err := l.transport.Write([]byte{tok}); err != nil {
		log.Error().Err(err).Msg("zwave link: failed to emit control token")
	}
}

func (l *LinkLayer) readByte() (byte, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(l.reader, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}
