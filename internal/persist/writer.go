package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/movehive/voicedesk/internal/repository"
)

const (
	retryBaseInterval = 200 * time.Millisecond
	retryMaxInterval  = 5 * time.Second
	commitTimeout     = 10 * time.Second
	queueCapacity     = 256

	// How long a released session id stays fenced. Long enough that any
	// straggler goroutine still holding the id has given up by then.
	releasedRetention = time.Hour
)

var (
	ErrWriterClosed = errors.New("persistence writer closed")
	// ErrSessionFailed means a write for this session exhausted its retry
	// deadline. The session is beyond repair for this process lifetime;
	// the owning state machine marks it orphaned-bound.
	ErrSessionFailed = errors.New("session writes failed past retry deadline")
	// ErrSessionReleased means the session's queue was already torn down
	// after its terminal status committed. Nothing may commit after that
	// status row, so late requests are rejected instead of reopening a queue.
	ErrSessionReleased = errors.New("session already released from writer")
)

type RequestKind int

const (
	WriteTurn RequestKind = iota
	WriteStatus
	WriteCreate
)

// WriteRequest is one durable commit handed to the writer by a session
// state machine.
type WriteRequest struct {
	Kind        RequestKind
	SessionID   string
	Room        string
	Participant string
	Sequence    int64
	Speaker     string
	Text        *string
	RecordedAt  time.Time
	Status      repository.SessionStatus
	EndedAt     *time.Time
}

// Writer owns all runtime writes to the store. Requests for one session are
// committed strictly in enqueue order by a dedicated goroutine; distinct
// sessions commit in parallel on the shared pool.
type Writer struct {
	repo     repository.Repository
	deadline time.Duration

	mu       sync.Mutex
	queues   map[string]*sessionQueue
	released map[string]time.Time
	closed   bool
}

func NewWriter(repo repository.Repository, retryDeadline time.Duration) *Writer {
	return &Writer{
		repo:     repo,
		deadline: retryDeadline,
		queues:   make(map[string]*sessionQueue),
		released: make(map[string]time.Time),
	}
}

// Enqueue appends a request to its session's queue and returns a ticket that
// can be waited on. It does not block on the commit itself.
func (w *Writer) Enqueue(req WriteRequest) (int64, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, ErrWriterClosed
	}
	if _, gone := w.released[req.SessionID]; gone {
		w.mu.Unlock()
		return 0, ErrSessionReleased
	}
	q, ok := w.queues[req.SessionID]
	if !ok {
		q = newSessionQueue(req.SessionID, w.commitWithRetry)
		w.queues[req.SessionID] = q
	}
	w.mu.Unlock()
	return q.enqueue(req)
}

// WaitFor blocks until every request up to and including ticket has been
// durably committed, the session's queue has failed, or ctx expires.
func (w *Writer) WaitFor(ctx context.Context, sessionID string, ticket int64) error {
	w.mu.Lock()
	q, ok := w.queues[sessionID]
	w.mu.Unlock()
	if !ok {
		return nil
	}
	return q.waitFor(ctx, ticket)
}

// ReleaseSession tears down the queue of a session that reached a terminal
// state. Pending requests are still drained before the goroutine exits.
// The session id is fenced afterwards: a late Enqueue returns
// ErrSessionReleased instead of reopening a queue behind the terminal status.
func (w *Writer) ReleaseSession(sessionID string) {
	w.mu.Lock()
	q, ok := w.queues[sessionID]
	if ok {
		delete(w.queues, sessionID)
	}
	w.released[sessionID] = time.Now()
	w.pruneReleasedLocked()
	w.mu.Unlock()
	if ok {
		q.shutdown()
	}
}

func (w *Writer) pruneReleasedLocked() {
	cutoff := time.Now().Add(-releasedRetention)
	for id, at := range w.released {
		if at.Before(cutoff) {
			delete(w.released, id)
		}
	}
}

func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	queues := make([]*sessionQueue, 0, len(w.queues))
	for id, q := range w.queues {
		queues = append(queues, q)
		delete(w.queues, id)
	}
	w.mu.Unlock()
	for _, q := range queues {
		q.shutdown()
	}
}

func (w *Writer) commitWithRetry(req WriteRequest) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBaseInterval
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = w.deadline

	attempt := 0
	op := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		defer cancel()
		return w.commit(ctx, req)
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("store commit failed; retrying",
			"session_id", req.SessionID,
			"sequence", req.Sequence,
			"attempt", attempt,
			"retry_in", next,
			"error", err)
	}
	return backoff.RetryNotify(op, bo, notify)
}

func (w *Writer) commit(ctx context.Context, req WriteRequest) error {
	switch req.Kind {
	case WriteCreate:
		_, err := w.repo.CreateSession(ctx, repository.CreateSessionInput{
			SessionID:   req.SessionID,
			Room:        req.Room,
			Participant: req.Participant,
			StartedAt:   req.RecordedAt,
		})
		return err
	case WriteStatus:
		return w.repo.UpdateSessionStatus(ctx, repository.UpdateSessionStatusInput{
			SessionID: req.SessionID,
			Status:    req.Status,
			EndedAt:   req.EndedAt,
		})
	default:
		return w.repo.UpsertTurn(ctx, repository.UpsertTurnInput{
			SessionID:  req.SessionID,
			Sequence:   req.Sequence,
			Speaker:    req.Speaker,
			Text:       req.Text,
			RecordedAt: req.RecordedAt,
		})
	}
}

type queuedRequest struct {
	ticket int64
	req    WriteRequest
}

type sessionQueue struct {
	sessionID string
	commit    func(WriteRequest) error
	ch        chan queuedRequest

	mu         sync.Mutex
	nextTicket int64
	settled    int64
	failed     error
	shut       bool
	inflight   int
	closeOnce  sync.Once
	waiters    map[int64][]chan error
}

func newSessionQueue(sessionID string, commit func(WriteRequest) error) *sessionQueue {
	q := &sessionQueue{
		sessionID: sessionID,
		commit:    commit,
		ch:        make(chan queuedRequest, queueCapacity),
		waiters:   make(map[int64][]chan error),
	}
	go q.run()
	return q
}

func (q *sessionQueue) enqueue(req WriteRequest) (int64, error) {
	q.mu.Lock()
	if q.failed != nil {
		err := q.failed
		q.mu.Unlock()
		return 0, err
	}
	if q.shut {
		q.mu.Unlock()
		return 0, ErrWriterClosed
	}
	q.nextTicket++
	ticket := q.nextTicket
	q.inflight++
	q.mu.Unlock()

	// The channel cannot close while inflight > 0, so this send cannot
	// race a concurrent shutdown. If shutdown arrived meanwhile, the last
	// sender out closes the channel itself.
	q.ch <- queuedRequest{ticket: ticket, req: req}

	q.mu.Lock()
	q.inflight--
	closeNow := q.shut && q.inflight == 0
	q.mu.Unlock()
	if closeNow {
		q.closeOnce.Do(func() { close(q.ch) })
	}
	return ticket, nil
}

func (q *sessionQueue) run() {
	for item := range q.ch {
		q.mu.Lock()
		failed := q.failed
		q.mu.Unlock()
		if failed != nil {
			q.settle(item.ticket, failed)
			continue
		}
		err := q.commit(item.req)
		if err != nil {
			slog.Error("write permanently failed for session",
				"session_id", q.sessionID,
				"sequence", item.req.Sequence,
				"error", err)
			err = ErrSessionFailed
		}
		q.settle(item.ticket, err)
	}
}

func (q *sessionQueue) settle(ticket int64, err error) {
	q.mu.Lock()
	if err != nil && q.failed == nil {
		q.failed = err
	}
	q.settled = ticket
	var notify []chan error
	for t, chans := range q.waiters {
		if t <= ticket || q.failed != nil {
			notify = append(notify, chans...)
			delete(q.waiters, t)
		}
	}
	failed := q.failed
	q.mu.Unlock()

	for _, c := range notify {
		if failed != nil {
			c <- failed
		} else {
			c <- nil
		}
		close(c)
	}
}

func (q *sessionQueue) waitFor(ctx context.Context, ticket int64) error {
	q.mu.Lock()
	if q.failed != nil {
		err := q.failed
		q.mu.Unlock()
		return err
	}
	if q.settled >= ticket {
		q.mu.Unlock()
		return nil
	}
	done := make(chan error, 1)
	q.waiters[ticket] = append(q.waiters[ticket], done)
	q.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *sessionQueue) shutdown() {
	q.mu.Lock()
	if q.shut {
		q.mu.Unlock()
		return
	}
	q.shut = true
	closeNow := q.inflight == 0
	q.mu.Unlock()
	if closeNow {
		q.closeOnce.Do(func() { close(q.ch) })
	}
}
