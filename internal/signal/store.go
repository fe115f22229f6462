// Package signal is the transport layer of the call core: a thin abstraction
// over a shared document store providing call-record CRUD, candidate append
// and change subscriptions. It carries no call semantics; the state machine
// in internal/call interprets what the records mean.
package signal

import (
	"context"
	"errors"
)

var (
	ErrCallNotFound = errors.New("signal: call not found")
	ErrCallEnded    = errors.New("signal: call already ended")
)

// CancelFunc stops a watch. Safe to call more than once.
type CancelFunc func()

// StatusExtra carries the end-of-call fields written together with a terminal
// status transition.
type StatusExtra struct {
	Duration    int
	FinalStatus string
}

// Store is the shared document store both call endpoints signal through.
//
// All operations may fail with a transport error. Per the error policy, only
// CreateCall failures abort call setup; everything else is logged by callers
// and treated as best-effort.
//
// Watch callbacks are invoked sequentially per watch, in event order, on a
// goroutine owned by the store. Callbacks must not block indefinitely.
type Store interface {
	// CreateCall writes a new ringing call record and returns its ID. The
	// record becomes visible to WatchIncoming watchers of the receiver.
	CreateCall(ctx context.Context, callerID, receiverID string, callType CallType, chatID string) (string, error)

	// GetCall returns the current record snapshot, or ErrCallNotFound.
	GetCall(ctx context.Context, callID string) (*CallRecord, error)

	// UpdateCallStatus transitions the record status. extra, when non-nil,
	// writes duration/finalStatus alongside a terminal transition.
	UpdateCallStatus(ctx context.Context, callID string, status CallStatus, extra *StatusExtra) error

	// SetDescription writes the offer or answer SDP slot of the record.
	SetDescription(ctx context.Context, callID string, desc SessionDescription, kind DescriptionKind) error

	// AppendCandidate appends one candidate to the given side's stream.
	AppendCandidate(ctx context.Context, callID string, side Side, cand Candidate) error

	// WatchCall delivers a record snapshot after every mutation of the record.
	WatchCall(ctx context.Context, callID string, fn func(*CallRecord)) (CancelFunc, error)

	// WatchIncoming delivers newly created ringing calls addressed to userID.
	// It is add-only: record updates never re-deliver a call here.
	WatchIncoming(ctx context.Context, userID string, fn func(*CallRecord)) (CancelFunc, error)

	// WatchCandidates replays the side's existing candidate stream in append
	// order, then continues delivering new appends. Each candidate is
	// delivered exactly once per watch.
	WatchCandidates(ctx context.Context, callID string, side Side, fn func(Candidate)) (CancelFunc, error)

	// CleanupSignaling deletes the transient candidate streams of an ended
	// call. Best-effort; the record itself is kept for call history.
	CleanupSignaling(ctx context.Context, callID string) error

	// AppendCallLog appends a human-readable call outcome line to the linked
	// conversation. Best-effort.
	AppendCallLog(ctx context.Context, chatID, text string) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
