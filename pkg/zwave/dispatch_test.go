package zwave

import (
	"context"
	"net"
	"testing"
	"time"
)

// drainPeer continuously discards bytes written by the link layer (ACKs for
// inbound frames) so those writes never block on an unread net.Pipe.
func drainPeer(peer net.Conn) {
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := peer.Read(buf); err != nil {
				return
			}
		}
	}()
}

func newDispatchHarness(t *testing.T) (*LinkLayer, *TransactionLayer, *ReceiveDispatcher, net.Conn) {
	t.Helper()
	shrinkLinkTimings(t)
	ours, peer := net.Pipe()
	t.Cleanup(func() { ours.Close(); peer.Close() })

	link := NewLinkLayer(ours)
	link.Start()
	t.Cleanup(link.Close)

	tl := NewTransactionLayer(link)
	t.Cleanup(tl.Close)

	d := NewReceiveDispatcher(link, tl)
	d.Start()
	t.Cleanup(d.Close)

	drainPeer(peer)

	return link, tl, d, peer
}

func TestReceiveDispatcherRoutesResponse(t *testing.T) {
	_, tl, _, peer := newDispatchHarness(t)

	cmd := Command{
		CommandID:       0x21,
		ExpectsResponse: true,
		ParamsBuilder:   func(byte) []byte { return []byte{0x12, 0x34} },
	}
	handle, err := tl.Submit(context.Background(), cmd, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	resFrame := Frame{Type: FrameTypeRES, CommandID: 0x21, Parameters: []byte{0xAB}}
	if _, err := peer.Write(EncodeFrame(resFrame)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(result.Response) != 1 || result.Response[0] != 0xAB {
		t.Fatalf("got response %v, want [0xAB]", result.Response)
	}
}

func TestReceiveDispatcherRoutesCallback(t *testing.T) {
	_, tl, _, peer := newDispatchHarness(t)

	var gotSession byte
	cmd := Command{
		CommandID:        0x13,
		ExpectsResponse:  true,
		CarriesSessionID: true,
		ParamsBuilder: func(sid byte) []byte {
			gotSession = sid
			return []byte{sid}
		},
	}
	handle, err := tl.Submit(context.Background(), cmd, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	resFrame := Frame{Type: FrameTypeRES, CommandID: 0x13, Parameters: []byte{0x00}}
	if _, err := peer.Write(EncodeFrame(resFrame)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// gotSession is set by ParamsBuilder, which Submit runs before it
	// returns; the poll below only guards against it still being zero.
	deadline := time.Now().Add(time.Second)
	for gotSession == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	callbackFrame := Frame{Type: FrameTypeREQ, CommandID: 0x13, Parameters: []byte{gotSession, 0x00}}
	if _, err := peer.Write(EncodeFrame(callbackFrame)); err != nil {
		t.Fatal(err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(result.Callbacks) != 1 {
		t.Fatalf("got %d callbacks, want 1", len(result.Callbacks))
	}
}

func TestReceiveDispatcherUnsolicitedHandler(t *testing.T) {
	_, _, d, peer := newDispatchHarness(t)

	received := make(chan []byte, 1)
	d.RegisterUnsolicitedHandler(funcApplicationCommandHandlerBridge, func(params []byte) {
		received <- params
	})

	reqFrame := Frame{Type: FrameTypeREQ, CommandID: funcApplicationCommandHandlerBridge, Parameters: []byte{0x00, 0x01, 0x05, 0x03, 0x25, 0x03, 0xFF, 0xD5}}
	if _, err := peer.Write(EncodeFrame(reqFrame)); err != nil {
		t.Fatal(err)
	}

	select {
	case params := <-received:
		if len(params) != 8 {
			t.Fatalf("got %d param bytes, want 8", len(params))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unsolicited handler")
	}
}
