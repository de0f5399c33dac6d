package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/movehive/voicedesk/internal/event"
	"github.com/movehive/voicedesk/internal/persist"
	"github.com/movehive/voicedesk/internal/repository"
	"github.com/movehive/voicedesk/internal/roombackend"
)

type fakeBackend struct {
	mu       sync.Mutex
	live     []roombackend.RoomSession
	listErr  error
	sent     []roombackend.DataMessage
	onCB     func(roombackend.Callback)
	onAudio  func(roombackend.AudioPacket)
	sendErr  error
	closed   bool
}

func (f *fakeBackend) Connect(_ context.Context) error { return nil }

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) RegisterCallbackHandler(handler func(roombackend.Callback)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCB = handler
}

func (f *fakeBackend) RegisterAudioHandler(handler func(roombackend.AudioPacket)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAudio = handler
}

func (f *fakeBackend) ListActiveSessions(_ context.Context) ([]roombackend.RoomSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]roombackend.RoomSession, len(f.live))
	copy(out, f.live)
	return out, nil
}

func (f *fakeBackend) SendData(msg roombackend.DataMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeBackend) sentMessages() []roombackend.DataMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]roombackend.DataMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func seedSession(repo *memRepo, room, participant string, epoch int64, status repository.SessionStatus, lastSeq int64) string {
	id := event.DeriveSessionID(room, participant, epoch)
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.sessions[id] = &repository.Session{
		ID:           id,
		Room:         room,
		Participant:  participant,
		Status:       status,
		StartedAt:    time.Now().Add(-time.Minute),
		LastSequence: lastSeq,
	}
	return id
}

func testRecovery(repo *memRepo, backend *fakeBackend) (*RecoveryCoordinator, *Registry, *persist.Writer) {
	w := persist.NewWriter(repo, 2*time.Second)
	cfg := MachineConfig{Writer: w, Repo: repo, DrainTimeout: 2 * time.Second}
	registry := NewRegistry(func(sessionID, room, participant string) *StateMachine {
		return NewStateMachine(sessionID, room, participant, cfg)
	})
	rc := NewRecoveryCoordinator(repo, backend, registry, func(s repository.Session) *StateMachine {
		return ResumeStateMachine(s, cfg)
	})
	return rc, registry, w
}

func TestRecovery_ResumesLiveSessionsAndOrphansTheRest(t *testing.T) {
	repo := newMemRepo()
	liveID := seedSession(repo, "room-1", "alice", 100, repository.SessionStatusActive, 4)
	staleID := seedSession(repo, "room-2", "bob", 200, repository.SessionStatusClosing, 2)
	pendingID := seedSession(repo, "room-3", "carol", 300, repository.SessionStatusPending, 0)
	closedID := seedSession(repo, "room-4", "dave", 400, repository.SessionStatusClosed, 9)

	backend := &fakeBackend{live: []roombackend.RoomSession{
		{Room: "room-1", Participant: "alice", JoinEpoch: 100},
	}}
	rc, registry, w := testRecovery(repo, backend)
	defer w.Close()

	if err := rc.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	sm, ok := registry.Get(liveID)
	if !ok {
		t.Fatal("live session was not resumed into the registry")
	}
	if sm.Status() != repository.SessionStatusActive {
		t.Fatalf("resumed machine status = %s, want active", sm.Status())
	}
	if sm.LastSequence() != 4 {
		t.Fatalf("resumed machine should continue after sequence 4, got %d", sm.LastSequence())
	}
	if got := repo.sessionSnapshot(liveID).Status; got != repository.SessionStatusActive {
		t.Fatalf("resumed session persisted status = %s, want active", got)
	}

	for _, id := range []string{staleID, pendingID} {
		s := repo.sessionSnapshot(id)
		if s.Status != repository.SessionStatusOrphaned {
			t.Fatalf("session %s status = %s, want orphaned", id, s.Status)
		}
		if s.EndedAt == nil {
			t.Fatalf("orphaned session %s has no ended_at", id)
		}
		if _, ok := registry.Get(id); ok {
			t.Fatalf("orphaned session %s resumed into registry", id)
		}
	}

	if got := repo.sessionSnapshot(closedID).Status; got != repository.SessionStatusClosed {
		t.Fatalf("closed session was touched by recovery: %s", got)
	}

	// registry is open for new sessions once reconciliation completes
	if _, created, err := registry.GetOrCreate("fresh", "room-9", "eve"); err != nil || !created {
		t.Fatalf("expected registry to accept new sessions, got created=%v err=%v", created, err)
	}
}

func TestRecovery_BackendFailureKeepsRegistryShut(t *testing.T) {
	repo := newMemRepo()
	seedSession(repo, "room-1", "alice", 100, repository.SessionStatusActive, 4)

	backend := &fakeBackend{listErr: errors.New("room backend unreachable")}
	rc, registry, w := testRecovery(repo, backend)
	defer w.Close()

	if err := rc.Reconcile(context.Background()); err == nil {
		t.Fatal("expected reconcile to fail when the backend listing fails")
	}
	if _, _, err := registry.GetOrCreate("s-1", "room-1", "alice"); !errors.Is(err, ErrRecoveryPending) {
		t.Fatalf("registry should stay shut after failed recovery, got %v", err)
	}
}

func TestRecovery_NoStaleSessionsOpensImmediately(t *testing.T) {
	repo := newMemRepo()
	backend := &fakeBackend{}
	rc, registry, w := testRecovery(repo, backend)
	defer w.Close()

	if err := rc.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, created, err := registry.GetOrCreate("s-1", "room-1", "alice"); err != nil || !created {
		t.Fatalf("expected open registry, got created=%v err=%v", created, err)
	}
}
