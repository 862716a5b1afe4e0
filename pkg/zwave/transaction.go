package zwave

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Command describes an outbound Serial API command at the level the
// Transaction Layer needs: how to build its wire parameters once a session
// ID (if any) is known, and how completion is recognized.
type Command struct {
	// CommandID is the Serial API function/command byte.
	CommandID byte
	// ExpectsResponse is true if the controller replies with a RES frame.
	ExpectsResponse bool
	// CarriesSessionID is true if the command's wire format embeds a
	// session ID and therefore expects one or more REQ callbacks keyed by
	// that ID.
	CarriesSessionID bool
	// ParamsBuilder returns the final wire parameters. sessionID is 0 when
	// CarriesSessionID is false.
	ParamsBuilder func(sessionID byte) []byte
	// IsTerminalCallback marks a callback as the last one for multi-shot
	// commands. nil means every callback is terminal (the common,
	// single-shot case).
	IsTerminalCallback func(params []byte) bool
}

type transactionState int

const (
	txPending transactionState = iota
	txSent
	txComplete
	txFailed
)

type transactionRecord struct {
	traceID   string
	commandID byte
	sessionID uint8
	hasSess   bool
	expectsRes bool
	isTerminal func([]byte) bool

	mu          sync.Mutex
	state       transactionState
	sentToLink  bool
	tombstoned  bool
	gotResponse bool
	gotTerminal bool
	err         error

	responseCh chan []byte
	callbackCh chan []byte
	doneCh     chan struct{}

	releaseOnce sync.Once
}

// TransactionHandle is returned by Submit. Callers use it to wait for
// completion, stream callbacks, or cancel.
type TransactionHandle struct {
	tl  *TransactionLayer
	rec *transactionRecord
}

// TransactionResult is the outcome of a completed transaction.
type TransactionResult struct {
	Response  []byte   // nil if the command did not expect one
	Callbacks [][]byte // all callbacks observed, in arrival order
}

// Wait blocks until the transaction completes, fails, or ctx is cancelled.
func (h *TransactionHandle) Wait(ctx context.Context) (TransactionResult, error) {
	var result TransactionResult
	var collected [][]byte

	collectDone := make(chan struct{})
	go func() {
		for cb := range h.rec.callbackCh {
			collected = append(collected, cb)
		}
		close(collectDone)
	}()

	select {
	case <-h.rec.doneCh:
	case <-ctx.Done():
		h.Cancel()
		return result, ctx.Err()
	}
	<-collectDone

	h.rec.mu.Lock()
	err := h.rec.err
	h.rec.mu.Unlock()

	if err != nil {
		return result, err
	}

	if h.rec.expectsRes {
		select {
		case resp := <-h.rec.responseCh:
			result.Response = resp
		default:
		}
	}
	result.Callbacks = collected
	return result, nil
}

// Cancel aborts the transaction. If it has not yet been handed to the Link
// Layer, it is pulled from the send queue with no wire effect. Otherwise the
// record is tombstoned: the session ID remains reserved so late arrivals can
// still be recognized and dropped, and is only released when the
// caller-supplied deadline eventually fires or a late frame completes it.
func (h *TransactionHandle) Cancel() {
	h.tl.cancel(h.rec)
}

// TransactionLayer multiplexes in-flight requests over a single LinkLayer:
// it serializes sends through a queue, allocates session IDs, and maintains
// the two lookup indices the Receive Dispatcher uses to correlate inbound
// RES and callback frames.
type TransactionLayer struct {
	link     *LinkLayer
	sessions *SessionAllocator

	mu          sync.Mutex
	byCommandID map[byte][]*transactionRecord // FIFO; oldest matches first
	bySessionID map[uint8]*transactionRecord

	queueMu sync.Mutex
	queue   []*sendJob
	queueCh chan struct{} // signalled when queue gains an item

	closeOnce sync.Once
	closeCh   chan struct{}
}

type sendJob struct {
	rec   *transactionRecord
	frame Frame

	mu        sync.Mutex
	cancelled bool
}

// NewTransactionLayer creates a transaction layer on top of an already
// running LinkLayer.
func NewTransactionLayer(link *LinkLayer) *TransactionLayer {
	tl := &TransactionLayer{
		link:        link,
		sessions:    NewSessionAllocator(),
		byCommandID: make(map[byte][]*transactionRecord),
		bySessionID: make(map[uint8]*transactionRecord),
		queueCh:     make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
	}
	go tl.sendLoop()
	return tl
}

// Close stops the send loop. Outstanding transactions are left to their own
// deadlines.
func (tl *TransactionLayer) Close() {
	tl.closeOnce.Do(func() { close(tl.closeCh) })
}

// Submit allocates a session ID if the command needs one, enqueues the
// frame for transmission, and returns a handle. timeout is the caller's
// per-transaction deadline; a non-positive timeout disables it.
func (tl *TransactionLayer) Submit(ctx context.Context, cmd Command, timeout time.Duration) (*TransactionHandle, error) {
	var sessionID byte
	if cmd.CarriesSessionID {
		id, err := tl.sessions.Allocate(ctx)
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	params := cmd.ParamsBuilder(sessionID)

	rec := &transactionRecord{
		traceID:    uuid.NewString(),
		commandID:  cmd.CommandID,
		sessionID:  sessionID,
		hasSess:    cmd.CarriesSessionID,
		expectsRes: cmd.ExpectsResponse,
		isTerminal: cmd.IsTerminalCallback,
		responseCh: make(chan []byte, 1),
		callbackCh: make(chan []byte, 8),
		doneCh:     make(chan struct{}),
	}

	tl.mu.Lock()
	tl.byCommandID[cmd.CommandID] = append(tl.byCommandID[cmd.CommandID], rec)
	if cmd.CarriesSessionID {
		tl.bySessionID[sessionID] = rec
	}
	tl.mu.Unlock()

	log.Debug().
		Str("trace", rec.traceID).
		Uint8("commandID", cmd.CommandID).
		Uint8("sessionID", sessionID).
		Msg("zwave transaction: submitted")

	job := &sendJob{rec: rec, frame: Frame{Type: FrameTypeREQ, CommandID: cmd.CommandID, Parameters: params}}
	tl.enqueue(job)

	if timeout > 0 {
		go tl.watchTimeout(rec, timeout)
	}

	return &TransactionHandle{tl: tl, rec: rec}, nil
}

func (tl *TransactionLayer) enqueue(job *sendJob) {
	tl.queueMu.Lock()
	tl.queue = append(tl.queue, job)
	tl.queueMu.Unlock()
	select {
	case tl.queueCh <- struct{}{}:
	default:
	}
}

// sendLoop is the single sender: it pulls jobs off the queue one at a time
// and hands each to the Link Layer, preserving the "at most one outstanding
// frame" invariant above the link layer's own serialization.
func (tl *TransactionLayer) sendLoop() {
	for {
		job := tl.dequeue()
		if job == nil {
			select {
			case <-tl.queueCh:
				continue
			case <-tl.closeCh:
				return
			}
		}

		job.mu.Lock()
		cancelled := job.cancelled
		job.mu.Unlock()
		if cancelled {
			continue
		}

		job.rec.mu.Lock()
		job.rec.sentToLink = true
		job.rec.mu.Unlock()

		err := tl.link.Send(context.Background(), job.frame)
		if err != nil {
			tl.fail(job.rec, err)
			continue
		}
		tl.checkComplete(job.rec)
	}
}

func (tl *TransactionLayer) dequeue() *sendJob {
	tl.queueMu.Lock()
	defer tl.queueMu.Unlock()
	if len(tl.queue) == 0 {
		return nil
	}
	job := tl.queue[0]
	tl.queue = tl.queue[1:]
	return job
}

func (tl *TransactionLayer) cancel(rec *transactionRecord) {
	rec.mu.Lock()
	alreadyDone := rec.state == txComplete || rec.state == txFailed
	sent := rec.sentToLink
	rec.mu.Unlock()
	if alreadyDone {
		return
	}

	if !sent {
		tl.queueMu.Lock()
		for _, j := range tl.queue {
			if j.rec == rec {
				j.mu.Lock()
				j.cancelled = true
				j.mu.Unlock()
			}
		}
		tl.queueMu.Unlock()

		tl.finish(rec, ErrCancelled)
		return
	}

	rec.mu.Lock()
	rec.tombstoned = true
	rec.mu.Unlock()
}

// CompleteResponse delivers an inbound RES frame's parameters to the oldest
// live transaction awaiting a response for commandID.
func (tl *TransactionLayer) CompleteResponse(commandID byte, params []byte) bool {
	tl.mu.Lock()
	bucket := tl.byCommandID[commandID]
	var rec *transactionRecord
	idx := -1
	for i, r := range bucket {
		r.mu.Lock()
		match := r.expectsRes && !r.gotResponse
		tomb := r.tombstoned
		r.mu.Unlock()
		if match {
			rec = r
			idx = i
			_ = tomb
			break
		}
	}
	if rec != nil {
		tl.byCommandID[commandID] = append(bucket[:idx:idx], bucket[idx+1:]...)
	}
	tl.mu.Unlock()

	if rec == nil {
		return false
	}

	rec.mu.Lock()
	rec.gotResponse = true
	tombstoned := rec.tombstoned
	rec.mu.Unlock()

	if tombstoned {
		log.Debug().Str("trace", rec.traceID).Msg("zwave transaction: response for tombstoned transaction dropped")
		tl.checkComplete(rec)
		return true
	}

	select {
	case rec.responseCh <- params:
	default:
	}

	tl.checkComplete(rec)
	return true
}

// DeliverCallback routes an inbound REQ callback frame (identified by the
// session ID carried in its first parameter byte) to its transaction record.
// Returns false if no live transaction owns that session.
func (tl *TransactionLayer) DeliverCallback(sessionID uint8, params []byte) bool {
	tl.mu.Lock()
	rec, ok := tl.bySessionID[sessionID]
	tl.mu.Unlock()
	if !ok {
		return false
	}

	terminal := rec.isTerminal == nil || rec.isTerminal(params)

	rec.mu.Lock()
	if terminal {
		rec.gotTerminal = true
	}
	tombstoned := rec.tombstoned
	rec.mu.Unlock()

	if tombstoned {
		log.Debug().Str("trace", rec.traceID).Msg("zwave transaction: callback for tombstoned transaction dropped")
		if terminal {
			tl.checkComplete(rec)
		}
		return true
	}

	select {
	case rec.callbackCh <- params:
	default:
		log.Warn().Str("trace", rec.traceID).Msg("zwave transaction: callback buffer full, dropping")
	}

	if terminal {
		tl.checkComplete(rec)
	}
	return true
}

func (tl *TransactionLayer) checkComplete(rec *transactionRecord) {
	rec.mu.Lock()
	if rec.state == txComplete || rec.state == txFailed {
		rec.mu.Unlock()
		return
	}
	if rec.expectsRes && !rec.gotResponse {
		rec.mu.Unlock()
		return
	}
	if rec.hasSess && !rec.gotTerminal {
		rec.mu.Unlock()
		return
	}
	rec.state = txComplete
	rec.mu.Unlock()

	tl.finish(rec, nil)
}

func (tl *TransactionLayer) fail(rec *transactionRecord, err error) {
	rec.mu.Lock()
	if rec.state == txComplete || rec.state == txFailed {
		rec.mu.Unlock()
		return
	}
	rec.state = txFailed
	rec.err = err
	rec.mu.Unlock()

	tl.finish(rec, err)
}

// finish removes rec from both indices, releases its session ID exactly
// once, and signals doneCh.
func (tl *TransactionLayer) finish(rec *transactionRecord, err error) {
	tl.mu.Lock()
	if bucket, ok := tl.byCommandID[rec.commandID]; ok {
		for i, r := range bucket {
			if r == rec {
				tl.byCommandID[rec.commandID] = append(bucket[:i:i], bucket[i+1:]...)
				break
			}
		}
	}
	if rec.hasSess {
		if cur, ok := tl.bySessionID[rec.sessionID]; ok && cur == rec {
			delete(tl.bySessionID, rec.sessionID)
		}
	}
	tl.mu.Unlock()

	if err != nil {
		rec.mu.Lock()
		if rec.err == nil {
			rec.err = err
		}
		rec.mu.Unlock()
	}

	rec.releaseOnce.Do(func() {
		if rec.hasSess {
			tl.sessions.Release(rec.sessionID)
		}
		close(rec.callbackCh)
		close(rec.doneCh)
	})
}

func (tl *TransactionLayer) watchTimeout(rec *transactionRecord, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-rec.doneCh:
	case <-timer.C:
		tl.fail(rec, ErrTransactionTimeout)
	case <-tl.closeCh:
	}
}
