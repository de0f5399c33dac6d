package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/movehive/voicedesk/internal/event"
	"github.com/movehive/voicedesk/internal/persist"
	"github.com/movehive/voicedesk/internal/repository"
)

const orphanCommitTimeout = 5 * time.Second

// TerminalFunc is invoked exactly once when a machine reaches Closed or
// Orphaned, after the terminal status commit has been attempted.
type TerminalFunc func(sm *StateMachine, status repository.SessionStatus)

// UserTurnFunc is invoked after a final user transcript has been assigned a
// sequence number and enqueued, outside the machine lock.
type UserTurnFunc func(sm *StateMachine, text string)

// StateMachine owns the lifecycle of one room session. All status
// transitions happen here; the registry guarantees at most one live
// instance per session id.
type StateMachine struct {
	id           string
	room         string
	participant  string
	writer       *persist.Writer
	repo         repository.SessionRepository
	drainTimeout time.Duration
	onTerminal   TerminalFunc
	onUserTurn   UserTurnFunc

	mu           sync.Mutex
	status       repository.SessionStatus
	nextSequence int64
	startedAt    time.Time
	// sequence of an audio-only turn still waiting for its transcript,
	// keyed by speaker
	pendingText map[event.Speaker]int64
}

type MachineConfig struct {
	Writer       *persist.Writer
	Repo         repository.SessionRepository
	DrainTimeout time.Duration
	OnTerminal   TerminalFunc
	OnUserTurn   UserTurnFunc
}

func NewStateMachine(id, room, participant string, cfg MachineConfig) *StateMachine {
	return &StateMachine{
		id:           id,
		room:         room,
		participant:  participant,
		writer:       cfg.Writer,
		repo:         cfg.Repo,
		drainTimeout: cfg.DrainTimeout,
		onTerminal:   cfg.OnTerminal,
		onUserTurn:   cfg.OnUserTurn,
		status:       repository.SessionStatusPending,
		nextSequence: 1,
		startedAt:    time.Now(),
		pendingText:  make(map[event.Speaker]int64),
	}
}

// ResumeStateMachine seeds a machine from a persisted session that is still
// live on the room backend. Sequence assignment continues after the highest
// durably committed one.
func ResumeStateMachine(s repository.Session, cfg MachineConfig) *StateMachine {
	sm := NewStateMachine(s.ID, s.Room, s.Participant, cfg)
	sm.status = repository.SessionStatusActive
	sm.nextSequence = s.LastSequence + 1
	sm.startedAt = s.StartedAt
	return sm
}

func (sm *StateMachine) ID() string          { return sm.id }
func (sm *StateMachine) Room() string        { return sm.room }
func (sm *StateMachine) Participant() string { return sm.participant }

func (sm *StateMachine) Status() repository.SessionStatus {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.status
}

func (sm *StateMachine) StartedAt() time.Time {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.startedAt
}

// LastSequence returns the highest sequence number assigned so far.
func (sm *StateMachine) LastSequence() int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.nextSequence - 1
}

// Start persists the pending session row. Idempotent: a duplicate join
// callback re-enqueues a create that no-ops at the store.
func (sm *StateMachine) Start() {
	sm.mu.Lock()
	if sm.status.Terminal() {
		sm.mu.Unlock()
		return
	}
	startedAt := sm.startedAt
	sm.mu.Unlock()

	sm.enqueue(persist.WriteRequest{
		Kind:        persist.WriteCreate,
		SessionID:   sm.id,
		Room:        sm.room,
		Participant: sm.participant,
		RecordedAt:  startedAt,
	})
}

// Handle consumes one normalized event. Non-blocking for everything except
// the close path, which drains in its own goroutine.
func (sm *StateMachine) Handle(ev event.Event) {
	switch ev.Kind {
	case event.KindJoin:
		sm.Start()
	case event.KindSpeechStart:
		sm.activate()
	case event.KindSpeechEnd:
		sm.activate()
		sm.recordAudioOnlyTurn(ev)
	case event.KindTranscriptChunk:
		if !ev.IsFinal {
			return
		}
		sm.activate()
		sm.recordTranscriptTurn(ev)
	case event.KindLeave:
		sm.beginClose()
	case event.KindError:
		slog.Warn("room backend reported session error",
			"session_id", sm.id, "room", sm.room, "detail", ev.ErrDetail)
	}
}

// RecordAssistantTurn appends a locally generated assistant reply as a turn.
func (sm *StateMachine) RecordAssistantTurn(text string) {
	sm.mu.Lock()
	if sm.status != repository.SessionStatusActive {
		sm.mu.Unlock()
		return
	}
	seq := sm.nextSequence
	sm.nextSequence++
	sm.mu.Unlock()

	sm.enqueue(persist.WriteRequest{
		Kind:       persist.WriteTurn,
		SessionID:  sm.id,
		Sequence:   seq,
		Speaker:    string(event.SpeakerAssistant),
		Text:       &text,
		RecordedAt: time.Now(),
	})
}

func (sm *StateMachine) activate() {
	sm.mu.Lock()
	if sm.status != repository.SessionStatusPending {
		sm.mu.Unlock()
		return
	}
	sm.status = repository.SessionStatusActive
	sm.mu.Unlock()

	sm.enqueue(persist.WriteRequest{
		Kind:      persist.WriteStatus,
		SessionID: sm.id,
		Status:    repository.SessionStatusActive,
	})
}

func (sm *StateMachine) recordAudioOnlyTurn(ev event.Event) {
	sm.mu.Lock()
	if sm.status != repository.SessionStatusActive {
		sm.mu.Unlock()
		return
	}
	seq := sm.nextSequence
	sm.nextSequence++
	sm.pendingText[ev.Speaker] = seq
	sm.mu.Unlock()

	sm.enqueue(persist.WriteRequest{
		Kind:       persist.WriteTurn,
		SessionID:  sm.id,
		Sequence:   seq,
		Speaker:    string(ev.Speaker),
		Text:       nil,
		RecordedAt: ev.ObservedAt,
	})
}

func (sm *StateMachine) recordTranscriptTurn(ev event.Event) {
	sm.mu.Lock()
	if sm.status != repository.SessionStatusActive {
		sm.mu.Unlock()
		return
	}
	seq, refining := sm.pendingText[ev.Speaker]
	if refining {
		delete(sm.pendingText, ev.Speaker)
	} else {
		seq = sm.nextSequence
		sm.nextSequence++
	}
	sm.mu.Unlock()

	text := ev.Text
	sm.enqueue(persist.WriteRequest{
		Kind:       persist.WriteTurn,
		SessionID:  sm.id,
		Sequence:   seq,
		Speaker:    string(ev.Speaker),
		Text:       &text,
		RecordedAt: ev.ObservedAt,
	})

	if ev.Speaker == event.SpeakerUser && sm.onUserTurn != nil {
		sm.onUserTurn(sm, ev.Text)
	}
}

func (sm *StateMachine) beginClose() {
	sm.mu.Lock()
	if sm.status == repository.SessionStatusClosing || sm.status.Terminal() {
		// duplicate leave: no new writes, no status regression
		sm.mu.Unlock()
		return
	}
	sm.status = repository.SessionStatusClosing
	sm.mu.Unlock()

	sm.enqueue(persist.WriteRequest{
		Kind:      persist.WriteStatus,
		SessionID: sm.id,
		Status:    repository.SessionStatusClosing,
	})
	go sm.drainAndClose()
}

// drainAndClose is the one place the machine waits on the writer: the closed
// status row is enqueued behind every turn, so its confirmation proves all
// turns up to the final sequence are durable.
func (sm *StateMachine) drainAndClose() {
	endedAt := time.Now()
	ticket := sm.enqueue(persist.WriteRequest{
		Kind:      persist.WriteStatus,
		SessionID: sm.id,
		Status:    repository.SessionStatusClosed,
		EndedAt:   &endedAt,
	})
	if ticket == 0 {
		// enqueue already failed; markOrphaned ran
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sm.drainTimeout)
	defer cancel()
	if err := sm.writer.WaitFor(ctx, sm.id, ticket); err != nil {
		slog.Error("session close drain did not confirm; orphaning",
			"session_id", sm.id, "room", sm.room, "error", err)
		sm.markOrphaned()
		return
	}

	sm.mu.Lock()
	if sm.status.Terminal() {
		sm.mu.Unlock()
		return
	}
	sm.status = repository.SessionStatusClosed
	sm.mu.Unlock()

	slog.Info("session closed", "session_id", sm.id, "room", sm.room, "last_sequence", sm.LastSequence())
	sm.finish(repository.SessionStatusClosed)
}

// markOrphaned is the failure-path terminal: the writer queue is past help,
// so the status commit goes directly to the store, best effort. Startup
// reconciliation settles the row if this commit is lost too.
func (sm *StateMachine) markOrphaned() {
	sm.mu.Lock()
	if sm.status.Terminal() {
		sm.mu.Unlock()
		return
	}
	sm.status = repository.SessionStatusOrphaned
	sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), orphanCommitTimeout)
	defer cancel()
	endedAt := time.Now()
	if err := sm.repo.UpdateSessionStatus(ctx, repository.UpdateSessionStatusInput{
		SessionID: sm.id,
		Status:    repository.SessionStatusOrphaned,
		EndedAt:   &endedAt,
	}); err != nil {
		slog.Error("failed to commit orphaned status; startup reconciliation will settle it",
			"session_id", sm.id, "error", err)
	}
	sm.finish(repository.SessionStatusOrphaned)
}

func (sm *StateMachine) finish(status repository.SessionStatus) {
	if sm.onTerminal != nil {
		sm.onTerminal(sm, status)
	}
	sm.writer.ReleaseSession(sm.id)
}

// enqueue hands a request to the writer and returns its ticket, or 0 when
// the session's writes are beyond recovery (the machine orphans itself).
func (sm *StateMachine) enqueue(req persist.WriteRequest) int64 {
	ticket, err := sm.writer.Enqueue(req)
	if err != nil {
		switch {
		case errors.Is(err, persist.ErrSessionFailed):
			slog.Error("write rejected for failed session; orphaning",
				"session_id", sm.id, "error", err)
			sm.markOrphaned()
		case errors.Is(err, persist.ErrSessionReleased):
			// The session reached its terminal status while this request
			// was in flight. Dropping it keeps the terminal row last.
			slog.Debug("write dropped for released session",
				"session_id", sm.id, "sequence", req.Sequence)
		default:
			slog.Error("write enqueue failed", "session_id", sm.id, "error", err)
		}
		return 0
	}
	return ticket
}
