package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/movehive/voicedesk/internal/assistant"
	"github.com/movehive/voicedesk/internal/audio"
	"github.com/movehive/voicedesk/internal/config"
	"github.com/movehive/voicedesk/internal/event"
	"github.com/movehive/voicedesk/internal/repository"
	"github.com/movehive/voicedesk/internal/roombackend"
	"github.com/movehive/voicedesk/internal/transcriber"
	"github.com/movehive/voicedesk/internal/webhook"
)

type fakeWebhook struct {
	mu        sync.Mutex
	summaries []webhook.SessionSummary
}

func (f *fakeWebhook) SendSessionSummary(_ context.Context, summary webhook.SessionSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

func (f *fakeWebhook) sent() []webhook.SessionSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]webhook.SessionSummary, len(f.summaries))
	copy(out, f.summaries)
	return out
}

type fakeTranscriber struct{}

func (fakeTranscriber) StartStreaming(_ context.Context, _, _ string, _ transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	return nopStream{}, nil
}

type nopStream struct{}

func (nopStream) Write(_ []byte) error { return nil }
func (nopStream) Close() error         { return nil }

type nopDecoder struct{}

func (nopDecoder) WritePacket(_ []byte)           {}
func (nopDecoder) ReadPCM(_ []byte) (int, error)  { return 0, nil }
func (nopDecoder) Close()                         {}

func testManager(t *testing.T, repo *memRepo, backend *fakeBackend) (*Manager, *fakeWebhook) {
	t.Helper()
	cfg := &config.Config{
		TranscribeLanguage: "en-US",
		CloseDrainTimeout:  2 * time.Second,
		WriteRetryDeadline: 2 * time.Second,
	}
	wh := &fakeWebhook{}
	m := NewManager(cfg, repo, backend, fakeTranscriber{}, wh, func() audio.Decoder { return nopDecoder{} })
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return m, wh
}

func callback(kind roombackend.CallbackKind, text string, isFinal bool) roombackend.Callback {
	return roombackend.Callback{
		Kind:        kind,
		Room:        "room-1",
		Participant: "alice",
		JoinEpoch:   100,
		Text:        text,
		IsFinal:     isFinal,
		Timestamp:   time.Now(),
	}
}

func assistantText(t *testing.T, msg roombackend.DataMessage) string {
	t.Helper()
	var payload struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal data message: %v", err)
	}
	if payload.Type != "assistant_message" {
		t.Fatalf("unexpected data message type %q", payload.Type)
	}
	return payload.Text
}

func TestManager_CallRoundTrip(t *testing.T) {
	repo := newMemRepo()
	backend := &fakeBackend{}
	m, wh := testManager(t, repo, backend)

	sessionID := event.DeriveSessionID("room-1", "alice", 100)

	m.HandleCallback(callback(roombackend.CallbackJoin, "", false))
	if m.registry.Len() != 1 {
		t.Fatalf("expected 1 live session after join, got %d", m.registry.Len())
	}

	// welcome goes out to the room as a data message, not as a turn
	eventually(t, 2*time.Second, func() bool {
		return len(backend.sentMessages()) >= 1
	}, "welcome message not sent")
	welcome := backend.sentMessages()[0]
	if welcome.Topic != "assistant" {
		t.Fatalf("unexpected data topic %q", welcome.Topic)
	}
	if got := assistantText(t, welcome); got != assistant.WelcomeMessage {
		t.Fatalf("unexpected welcome text %q", got)
	}

	m.HandleCallback(callback(roombackend.CallbackSpeechStart, "", false))
	m.HandleCallback(callback(roombackend.CallbackSpeechEnd, "", false))
	m.HandleCallback(callback(roombackend.CallbackTranscript, "My name is Alice", true))

	// the assistant reply is recorded as the next turn and sent to the room
	eventually(t, 2*time.Second, func() bool {
		turns, _ := repo.ListTurnsBySessionID(context.Background(), sessionID)
		return len(turns) == 2
	}, "assistant turn not committed")

	turns, _ := repo.ListTurnsBySessionID(context.Background(), sessionID)
	if turns[0].Sequence != 1 || turns[0].Speaker != "user" || turns[0].Text == nil || *turns[0].Text != "My name is Alice" {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Sequence != 2 || turns[1].Speaker != "assistant" || turns[1].Text == nil || *turns[1].Text == "" {
		t.Fatalf("unexpected assistant turn: %+v", turns[1])
	}
	eventually(t, 2*time.Second, func() bool {
		return len(backend.sentMessages()) >= 2
	}, "assistant reply not sent to room")
	if got := assistantText(t, backend.sentMessages()[1]); got != *turns[1].Text {
		t.Fatalf("room message %q does not match recorded turn %q", got, *turns[1].Text)
	}

	m.HandleCallback(callback(roombackend.CallbackLeave, "", false))

	eventually(t, 5*time.Second, func() bool {
		return repo.sessionSnapshot(sessionID).Status == repository.SessionStatusClosed
	}, "session not closed after leave")
	eventually(t, 2*time.Second, func() bool {
		return m.registry.Len() == 0
	}, "session not removed from registry")

	eventually(t, 2*time.Second, func() bool {
		return len(wh.sent()) == 1
	}, "session summary webhook not sent")
	summary := wh.sent()[0]
	if summary.SessionID != sessionID || summary.Status != "closed" {
		t.Fatalf("unexpected summary: id=%s status=%s", summary.SessionID, summary.Status)
	}
	if summary.TurnCount != 2 || len(summary.Turns) != 2 {
		t.Fatalf("expected 2 turns in summary, got count=%d len=%d", summary.TurnCount, len(summary.Turns))
	}
	if summary.Turns[0].Speaker != "user" || summary.Turns[1].Speaker != "assistant" {
		t.Fatalf("unexpected summary speakers: %+v", summary.Turns)
	}
}

func TestManager_LookupReplyUsesStoredRequest(t *testing.T) {
	repo := newMemRepo()
	repo.requests["123456"] = repository.MovingRequest{
		RequestID:    "123456",
		CustomerName: "Alice Example",
		FromAddress:  "1 Old St",
		ToAddress:    "2 New Ave",
	}
	backend := &fakeBackend{}
	m, _ := testManager(t, repo, backend)
	sessionID := event.DeriveSessionID("room-1", "alice", 100)

	m.HandleCallback(callback(roombackend.CallbackJoin, "", false))
	m.HandleCallback(callback(roombackend.CallbackSpeechStart, "", false))
	m.HandleCallback(callback(roombackend.CallbackTranscript, "Please look up my details, request 123456", true))

	eventually(t, 2*time.Second, func() bool {
		turns, _ := repo.ListTurnsBySessionID(context.Background(), sessionID)
		return len(turns) == 2
	}, "lookup reply not recorded")

	turns, _ := repo.ListTurnsBySessionID(context.Background(), sessionID)
	reply := turns[1]
	if reply.Speaker != "assistant" || reply.Text == nil {
		t.Fatalf("unexpected reply turn: %+v", reply)
	}
	if !strings.Contains(*reply.Text, "Alice Example") || !strings.Contains(*reply.Text, "123456") {
		t.Fatalf("lookup reply missing request details: %q", *reply.Text)
	}
}

func TestManager_MalformedCallbackIsDropped(t *testing.T) {
	repo := newMemRepo()
	backend := &fakeBackend{}
	m, _ := testManager(t, repo, backend)

	m.HandleCallback(roombackend.Callback{Kind: roombackend.CallbackJoin, Room: "room-1", Participant: "alice"})
	m.HandleCallback(roombackend.Callback{Kind: "bogus", Room: "room-1", Participant: "alice", JoinEpoch: 100})

	if m.registry.Len() != 0 {
		t.Fatalf("malformed callbacks created %d sessions", m.registry.Len())
	}
}

func TestManager_LeaveForUnknownSessionIsIgnored(t *testing.T) {
	repo := newMemRepo()
	backend := &fakeBackend{}
	m, wh := testManager(t, repo, backend)

	m.HandleCallback(callback(roombackend.CallbackLeave, "", false))

	time.Sleep(100 * time.Millisecond)
	if m.registry.Len() != 0 {
		t.Fatalf("stray leave created %d sessions", m.registry.Len())
	}
	if len(wh.sent()) != 0 {
		t.Fatal("stray leave produced a session summary")
	}
}

func TestManager_ShutdownClosesLiveSessions(t *testing.T) {
	repo := newMemRepo()
	backend := &fakeBackend{}
	m, _ := testManager(t, repo, backend)
	sessionID := event.DeriveSessionID("room-1", "alice", 100)

	m.HandleCallback(callback(roombackend.CallbackJoin, "", false))
	m.HandleCallback(callback(roombackend.CallbackSpeechEnd, "", false))
	m.HandleCallback(callback(roombackend.CallbackTranscript, "hello", true))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Shutdown(ctx)

	if m.registry.Len() != 0 {
		t.Fatalf("expected no live sessions after shutdown, got %d", m.registry.Len())
	}
	if got := repo.sessionSnapshot(sessionID).Status; got != repository.SessionStatusClosed {
		t.Fatalf("expected session closed on shutdown, got %s", got)
	}
}
