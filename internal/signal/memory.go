package signal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same watch semantics as the
// Redis store. It backs single-node deployments and is the transport double
// for the call core's tests.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]*CallRecord
	cands map[string]map[Side][]Candidate
	logs  map[string][]string

	callWatchers     map[string]map[int]*eventQueue[*CallRecord]
	incomingWatchers map[string]map[int]*eventQueue[*CallRecord]
	candWatchers     map[candKey]map[int]*eventQueue[Candidate]
	nextWatcherID    int

	now func() time.Time
}

type candKey struct {
	callID string
	side   Side
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:            make(map[string]*CallRecord),
		cands:            make(map[string]map[Side][]Candidate),
		logs:             make(map[string][]string),
		callWatchers:     make(map[string]map[int]*eventQueue[*CallRecord]),
		incomingWatchers: make(map[string]map[int]*eventQueue[*CallRecord]),
		candWatchers:     make(map[candKey]map[int]*eventQueue[Candidate]),
		now:              time.Now,
	}
}

func (s *MemoryStore) CreateCall(ctx context.Context, callerID, receiverID string, callType CallType, chatID string) (string, error) {
	rec := &CallRecord{
		ID:         uuid.NewString(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Type:       callType,
		Status:     CallStatusRinging,
		ChatID:     chatID,
		CreatedAt:  s.now(),
	}

	s.mu.Lock()
	s.calls[rec.ID] = rec
	s.cands[rec.ID] = map[Side][]Candidate{}
	for _, q := range s.incomingWatchers[receiverID] {
		q.push(rec.Clone())
	}
	s.mu.Unlock()

	return rec.ID, nil
}

func (s *MemoryStore) GetCall(ctx context.Context, callID string) (*CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) UpdateCallStatus(ctx context.Context, callID string, status CallStatus, extra *StatusExtra) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.calls[callID]
	if !ok {
		return ErrCallNotFound
	}

	rec.Status = status
	if extra != nil {
		rec.Duration = extra.Duration
		rec.FinalStatus = extra.FinalStatus
	}
	s.notifyCallLocked(rec)
	return nil
}

func (s *MemoryStore) SetDescription(ctx context.Context, callID string, desc SessionDescription, kind DescriptionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.calls[callID]
	if !ok {
		return ErrCallNotFound
	}

	d := desc
	switch kind {
	case DescriptionOffer:
		rec.Offer = &d
	case DescriptionAnswer:
		rec.Answer = &d
	}
	s.notifyCallLocked(rec)
	return nil
}

func (s *MemoryStore) AppendCandidate(ctx context.Context, callID string, side Side, cand Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	streams, ok := s.cands[callID]
	if !ok {
		return ErrCallNotFound
	}

	streams[side] = append(streams[side], cand)
	for _, q := range s.candWatchers[candKey{callID, side}] {
		q.push(cand)
	}
	return nil
}

func (s *MemoryStore) WatchCall(ctx context.Context, callID string, fn func(*CallRecord)) (CancelFunc, error) {
	q := newEventQueue(fn)

	s.mu.Lock()
	s.nextWatcherID++
	id := s.nextWatcherID
	addWatcher(s.callWatchers, callID, id, q)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		removeWatcher(s.callWatchers, callID, id)
		s.mu.Unlock()
		q.close()
	}, nil
}

func (s *MemoryStore) WatchIncoming(ctx context.Context, userID string, fn func(*CallRecord)) (CancelFunc, error) {
	q := newEventQueue(fn)

	s.mu.Lock()
	s.nextWatcherID++
	id := s.nextWatcherID
	addWatcher(s.incomingWatchers, userID, id, q)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		removeWatcher(s.incomingWatchers, userID, id)
		s.mu.Unlock()
		q.close()
	}, nil
}

func (s *MemoryStore) WatchCandidates(ctx context.Context, callID string, side Side, fn func(Candidate)) (CancelFunc, error) {
	q := newEventQueue(fn)
	key := candKey{callID, side}

	s.mu.Lock()
	// Replay before registering so existing candidates are delivered once,
	// in append order, ahead of any new ones.
	if streams, ok := s.cands[callID]; ok {
		for _, cand := range streams[side] {
			q.push(cand)
		}
	}
	s.nextWatcherID++
	id := s.nextWatcherID
	addWatcher(s.candWatchers, key, id, q)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		removeWatcher(s.candWatchers, key, id)
		s.mu.Unlock()
		q.close()
	}, nil
}

func (s *MemoryStore) CleanupSignaling(ctx context.Context, callID string) error {
	s.mu.Lock()
	delete(s.cands, callID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AppendCallLog(ctx context.Context, chatID, text string) error {
	s.mu.Lock()
	s.logs[chatID] = append(s.logs[chatID], text)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// CallLog returns the call-log lines appended to a conversation. Test helper.
func (s *MemoryStore) CallLog(chatID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs[chatID]...)
}

// Records returns clones of every call record. Test helper.
func (s *MemoryStore) Records() []*CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*CallRecord, 0, len(s.calls))
	for _, rec := range s.calls {
		out = append(out, rec.Clone())
	}
	return out
}

// Candidates returns a side's candidate stream, or nil after cleanup. Test helper.
func (s *MemoryStore) Candidates(callID string, side Side) []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	streams, ok := s.cands[callID]
	if !ok {
		return nil
	}
	return append([]Candidate(nil), streams[side]...)
}

func (s *MemoryStore) notifyCallLocked(rec *CallRecord) {
	for _, q := range s.callWatchers[rec.ID] {
		q.push(rec.Clone())
	}
}

func addWatcher[K comparable, T any](m map[K]map[int]*eventQueue[T], key K, id int, q *eventQueue[T]) {
	ws, ok := m[key]
	if !ok {
		ws = make(map[int]*eventQueue[T])
		m[key] = ws
	}
	ws[id] = q
}

func removeWatcher[K comparable, T any](m map[K]map[int]*eventQueue[T], key K, id int) {
	ws, ok := m[key]
	if !ok {
		return
	}
	delete(ws, id)
	if len(ws) == 0 {
		delete(m, key)
	}
}

// eventQueue serializes watch callbacks: events are delivered one at a time,
// in push order, on a dedicated goroutine. Push never blocks the store.
type eventQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []T
	closed bool
}

func newEventQueue[T any](fn func(T)) *eventQueue[T] {
	q := &eventQueue[T]{}
	q.cond = sync.NewCond(&q.mu)

	go func() {
		for {
			q.mu.Lock()
			for len(q.events) == 0 && !q.closed {
				q.cond.Wait()
			}
			if q.closed && len(q.events) == 0 {
				q.mu.Unlock()
				return
			}
			ev := q.events[0]
			q.events = q.events[1:]
			q.mu.Unlock()

			fn(ev)
		}
	}()

	return q
}

func (q *eventQueue[T]) push(ev T) {
	q.mu.Lock()
	if !q.closed {
		q.events = append(q.events, ev)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

func (q *eventQueue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}
