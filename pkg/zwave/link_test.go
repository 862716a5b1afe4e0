package zwave

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"
)

// shrinkLinkTimings lowers link-layer timing constants for fast tests and
// registers a t.Cleanup that restores them.
func shrinkLinkTimings(t *testing.T) {
	t.Helper()
	origAck, origSend, origLo, origHi := ackDeadline, sendDeadline, canBackoffLo, canBackoffHi
	ackDeadline = 30 * time.Millisecond
	sendDeadline = 40 * time.Millisecond
	canBackoffLo = 1 * time.Millisecond
	canBackoffHi = 3 * time.Millisecond
	t.Cleanup(func() {
		ackDeadline, sendDeadline, canBackoffLo, canBackoffHi = origAck, origSend, origLo, origHi
	})
}

func readExactly(t *testing.T, r io.Reader, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("readExactly(%d): %v", n, err)
	}
	return buf
}

func TestLinkLayerSendSuccess(t *testing.T) {
	shrinkLinkTimings(t)
	ours, peer := net.Pipe()
	defer ours.Close()
	defer peer.Close()

	link := NewLinkLayer(ours)
	link.Start()
	defer link.Close()

	f := Frame{Type: FrameTypeREQ, CommandID: 0x13, Parameters: []byte{0x05}}
	wire := EncodeFrame(f)

	errCh := make(chan error, 1)
	go func() { errCh <- link.Send(context.Background(), f) }()

	got := readExactly(t, peer, len(wire))
	if !bytes.Equal(got, wire) {
		t.Fatalf("peer saw % X, want % X", got, wire)
	}
	if _, err := peer.Write([]byte{tokenACK}); err != nil {
		t.Fatal(err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Send returned %v, want nil", err)
	}
}

func TestLinkLayerNAKThenRetransmit(t *testing.T) {
	shrinkLinkTimings(t)
	ours, peer := net.Pipe()
	defer ours.Close()
	defer peer.Close()

	link := NewLinkLayer(ours)
	link.Start()
	defer link.Close()

	f := Frame{Type: FrameTypeREQ, CommandID: 0x02, Parameters: nil}
	wire := EncodeFrame(f)

	errCh := make(chan error, 1)
	go func() { errCh <- link.Send(context.Background(), f) }()

	// First attempt: NAK it.
	_ = readExactly(t, peer, len(wire))
	if _, err := peer.Write([]byte{tokenNAK}); err != nil {
		t.Fatal(err)
	}

	// Second attempt: ACK it.
	_ = readExactly(t, peer, len(wire))
	if _, err := peer.Write([]byte{tokenACK}); err != nil {
		t.Fatal(err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Send returned %v, want nil", err)
	}
}

func TestLinkLayerCANBackoffThenRetransmit(t *testing.T) {
	shrinkLinkTimings(t)
	ours, peer := net.Pipe()
	defer ours.Close()
	defer peer.Close()

	link := NewLinkLayer(ours)
	link.Start()
	defer link.Close()

	f := Frame{Type: FrameTypeREQ, CommandID: 0x02, Parameters: nil}
	wire := EncodeFrame(f)

	errCh := make(chan error, 1)
	go func() { errCh <- link.Send(context.Background(), f) }()

	_ = readExactly(t, peer, len(wire))
	if _, err := peer.Write([]byte{tokenCAN}); err != nil {
		t.Fatal(err)
	}

	_ = readExactly(t, peer, len(wire))
	if _, err := peer.Write([]byte{tokenACK}); err != nil {
		t.Fatal(err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Send returned %v, want nil", err)
	}
}

func TestLinkLayerTimeoutTreatedAsNAK(t *testing.T) {
	shrinkLinkTimings(t)
	ours, peer := net.Pipe()
	defer ours.Close()
	defer peer.Close()

	link := NewLinkLayer(ours)
	link.Start()
	defer link.Close()

	f := Frame{Type: FrameTypeREQ, CommandID: 0x02, Parameters: nil}
	wire := EncodeFrame(f)

	errCh := make(chan error, 1)
	go func() { errCh <- link.Send(context.Background(), f) }()

	// First attempt: let it time out (no response written).
	_ = readExactly(t, peer, len(wire))

	// Second attempt: ACK it.
	_ = readExactly(t, peer, len(wire))
	if _, err := peer.Write([]byte{tokenACK}); err != nil {
		t.Fatal(err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Send returned %v, want nil", err)
	}
}

func TestLinkLayerThreeNAKsFailsTransaction(t *testing.T) {
	shrinkLinkTimings(t)
	ours, peer := net.Pipe()
	defer ours.Close()
	defer peer.Close()

	link := NewLinkLayer(ours)
	link.Start()
	defer link.Close()

	f := Frame{Type: FrameTypeREQ, CommandID: 0x02, Parameters: nil}
	wire := EncodeFrame(f)

	errCh := make(chan error, 1)
	go func() { errCh <- link.Send(context.Background(), f) }()

	for i := 0; i < 3; i++ {
		_ = readExactly(t, peer, len(wire))
		if _, err := peer.Write([]byte{tokenNAK}); err != nil {
			t.Fatal(err)
		}
	}

	if err := <-errCh; err != ErrLinkFailure {
		t.Fatalf("got %v, want ErrLinkFailure", err)
	}
}

func TestLinkLayerReceivesAndAcksInboundFrame(t *testing.T) {
	shrinkLinkTimings(t)
	ours, peer := net.Pipe()
	defer ours.Close()
	defer peer.Close()

	link := NewLinkLayer(ours)
	link.Start()
	defer link.Close()

	f := Frame{Type: FrameTypeREQ, CommandID: 0x49, Parameters: []byte{0x01, 0x02}}
	wire := EncodeFrame(f)

	ackCh := make(chan byte, 1)
	go func() {
		buf := make([]byte, 1)
		if _, err := peer.Read(buf); err == nil {
			ackCh <- buf[0]
		}
	}()

	if _, err := peer.Write(wire); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ackCh:
		if got != tokenACK {
			t.Fatalf("got token 0x%02X, want ACK", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ACK")
	}

	select {
	case frame := <-link.Frames():
		if frame.CommandID != f.CommandID || !bytes.Equal(frame.Parameters, f.Parameters) {
			t.Fatalf("got %+v, want %+v", frame, f)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched frame")
	}
}
