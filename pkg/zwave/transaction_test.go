package zwave

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

// autoAckPeer simulates a perfectly responsive controller: it ACKs every
// framed write it sees and otherwise does nothing. Tests drive RES/callback
// delivery themselves by calling CompleteResponse/DeliverCallback directly,
// standing in for the Receive Dispatcher.
func autoAckPeer(t *testing.T, peer net.Conn) {
	t.Helper()
	go func() {
		for {
			sof := make([]byte, 1)
			if _, err := io.ReadFull(peer, sof); err != nil {
				return
			}
			if sof[0] != frameSOF {
				continue
			}
			lenBuf := make([]byte, 1)
			if _, err := io.ReadFull(peer, lenBuf); err != nil {
				return
			}
			body := make([]byte, int(lenBuf[0]))
			if _, err := io.ReadFull(peer, body); err != nil {
				return
			}
			if _, err := peer.Write([]byte{tokenACK}); err != nil {
				return
			}
		}
	}()
}

func newTestTransactionLayer(t *testing.T) (*TransactionLayer, net.Conn) {
	t.Helper()
	shrinkLinkTimings(t)
	ours, peer := net.Pipe()
	t.Cleanup(func() { ours.Close(); peer.Close() })

	link := NewLinkLayer(ours)
	link.Start()
	t.Cleanup(link.Close)

	autoAckPeer(t, peer)

	tl := NewTransactionLayer(link)
	t.Cleanup(tl.Close)
	return tl, peer
}

func TestTransactionResponseOnly(t *testing.T) {
	tl, _ := newTestTransactionLayer(t)

	cmd := Command{
		CommandID:       0x13,
		ExpectsResponse: true,
		ParamsBuilder:   func(byte) []byte { return []byte{0x01, 0x02} },
	}

	handle, err := tl.Submit(context.Background(), cmd, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	if !tl.CompleteResponse(cmd.CommandID, []byte{0xAA}) {
		t.Fatal("CompleteResponse found no matching transaction")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(result.Response) != 1 || result.Response[0] != 0xAA {
		t.Fatalf("got response %v, want [0xAA]", result.Response)
	}
}

func TestTransactionSessionCallbackSingleShot(t *testing.T) {
	tl, _ := newTestTransactionLayer(t)

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

	if !tl.CompleteResponse(cmd.CommandID, []byte{0x00}) {
		t.Fatal("CompleteResponse found no matching transaction")
	}
	if !tl.DeliverCallback(gotSession, []byte{0x01, 0xFF}) {
		t.Fatal("DeliverCallback found no matching transaction")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(result.Callbacks) != 1 {
		t.Fatalf("got %d callbacks, want 1", len(result.Callbacks))
	}
}

func TestTransactionMultiShotCallback(t *testing.T) {
	tl, _ := newTestTransactionLayer(t)

	var gotSession byte
	cmd := Command{
		CommandID:        0x4A,
		ExpectsResponse:  true,
		CarriesSessionID: true,
		ParamsBuilder: func(sid byte) []byte {
			gotSession = sid
			return []byte{sid}
		},
		IsTerminalCallback: func(params []byte) bool {
			return len(params) > 0 && params[len(params)-1] == 0xFF
		},
	}

	handle, err := tl.Submit(context.Background(), cmd, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	tl.CompleteResponse(cmd.CommandID, []byte{0x00})

	tl.DeliverCallback(gotSession, []byte{0x01, 0x00})
	tl.DeliverCallback(gotSession, []byte{0x01, 0x00})
	tl.DeliverCallback(gotSession, []byte{0x01, 0xFF})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(result.Callbacks) != 3 {
		t.Fatalf("got %d callbacks, want 3", len(result.Callbacks))
	}
}

func TestTransactionTimeout(t *testing.T) {
	tl, _ := newTestTransactionLayer(t)

	cmd := Command{
		CommandID:       0x02,
		ExpectsResponse: true,
		ParamsBuilder:   func(byte) []byte { return nil },
	}

	handle, err := tl.Submit(context.Background(), cmd, 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = handle.Wait(ctx)
	if err != ErrTransactionTimeout {
		t.Fatalf("got %v, want ErrTransactionTimeout", err)
	}
}

func TestTransactionCancelBeforeSent(t *testing.T) {
	shrinkLinkTimings(t)
	ours, peer := net.Pipe()
	defer ours.Close()
	defer peer.Close()
	// No reader on the peer end: the first submitted command's write to the
	// pipe never completes, so it occupies the send loop and keeps the
	// second command queued.

	link := NewLinkLayer(ours)
	link.Start()
	defer link.Close()

	tl := NewTransactionLayer(link)
	defer tl.Close()

	blocker := Command{CommandID: 0x01, ParamsBuilder: func(byte) []byte { return nil }}
	_, _ = tl.Submit(context.Background(), blocker, 0)

	cancelled := Command{CommandID: 0x02, ParamsBuilder: func(byte) []byte { return nil }}
	handle, err := tl.Submit(context.Background(), cancelled, 0)
	if err != nil {
		t.Fatal(err)
	}
	handle.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = handle.Wait(ctx)
	if err != ErrCancelled {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
}

func TestTransactionCancelAfterSentTombstonesAndDropsLateArrival(t *testing.T) {
	tl, _ := newTestTransactionLayer(t)

	cmd := Command{
		CommandID:        0x4A,
		ExpectsResponse:  true,
		CarriesSessionID: true,
		ParamsBuilder:    func(sid byte) []byte { return []byte{sid} },
	}

	handle, err := tl.Submit(context.Background(), cmd, 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	// Let the auto-ack peer actually acknowledge the send before cancelling.
	time.Sleep(10 * time.Millisecond)
	handle.Cancel()

	// A late response arriving after cancel but before the deadline fires
	// must not panic and must not be treated as a fresh unmatched frame.
	tl.CompleteResponse(cmd.CommandID, []byte{0x00})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = handle.Wait(ctx)
	if err != ErrTransactionTimeout {
		t.Fatalf("got %v, want ErrTransactionTimeout (tombstoned transaction cleaned up by deadline)", err)
	}
}
