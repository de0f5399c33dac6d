package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/movehive/voicedesk/internal/assistant"
	"github.com/movehive/voicedesk/internal/audio"
	"github.com/movehive/voicedesk/internal/config"
	"github.com/movehive/voicedesk/internal/event"
	"github.com/movehive/voicedesk/internal/persist"
	"github.com/movehive/voicedesk/internal/repository"
	"github.com/movehive/voicedesk/internal/roombackend"
	"github.com/movehive/voicedesk/internal/transcriber"
	"github.com/movehive/voicedesk/internal/webhook"
)

const (
	pcmPumpInterval = 20 * time.Millisecond
	pcmFrameBytes   = 960 * 2 * 2
	summaryTimeout  = 10 * time.Second
	dataTopic       = "assistant"
)

// Manager wires room backend callbacks through normalization into the
// per-session state machines and owns everything that happens around them:
// assistant replies, the optional audio transcription path, and terminal
// webhooks.
type Manager struct {
	cfg         *config.Config
	repo        repository.Repository
	backend     roombackend.Client
	writer      *persist.Writer
	registry    *Registry
	normalizer  *event.Normalizer
	router      *assistant.Router
	webhook     webhook.Sender
	transcriber transcriber.Transcriber
	newDecoder  audio.DecoderFactory

	mu    sync.Mutex
	pipes map[string]*audioPipe
}

func NewManager(
	cfg *config.Config,
	repo repository.Repository,
	backend roombackend.Client,
	stt transcriber.Transcriber,
	wh webhook.Sender,
	newDecoder audio.DecoderFactory,
) *Manager {
	m := &Manager{
		cfg:         cfg,
		repo:        repo,
		backend:     backend,
		writer:      persist.NewWriter(repo, cfg.WriteRetryDeadline),
		normalizer:  event.NewNormalizer(roombackend.AgentIdentity),
		router:      assistant.NewRouter(repo),
		webhook:     wh,
		transcriber: stt,
		newDecoder:  newDecoder,
		pipes:       make(map[string]*audioPipe),
	}
	m.registry = NewRegistry(func(sessionID, room, participant string) *StateMachine {
		return NewStateMachine(sessionID, room, participant, m.machineConfig())
	})
	return m
}

func (m *Manager) machineConfig() MachineConfig {
	return MachineConfig{
		Writer:       m.writer,
		Repo:         m.repo,
		DrainTimeout: m.cfg.CloseDrainTimeout,
		OnTerminal:   m.handleTerminal,
		OnUserTurn:   m.handleUserTurn,
	}
}

// Reconcile runs startup recovery and opens the registry. Must complete
// before any callback is dispatched.
func (m *Manager) Reconcile(ctx context.Context) error {
	rc := NewRecoveryCoordinator(m.repo, m.backend, m.registry, func(s repository.Session) *StateMachine {
		return ResumeStateMachine(s, m.machineConfig())
	})
	return rc.Reconcile(ctx)
}

// HandleCallback is the entry point for every raw room backend
// notification.
func (m *Manager) HandleCallback(cb roombackend.Callback) {
	ev, err := m.normalizer.Normalize(cb)
	if err != nil {
		slog.Warn("dropping malformed room callback",
			"kind", cb.Kind, "room", cb.Room, "participant", cb.Participant, "error", err)
		return
	}

	switch ev.Kind {
	case event.KindJoin, event.KindSpeechStart, event.KindSpeechEnd, event.KindTranscriptChunk:
		sm, created, err := m.registry.GetOrCreate(ev.SessionID, ev.Room, ev.Participant)
		if err != nil {
			if errors.Is(err, ErrSessionTerminal) {
				slog.Debug("ignoring callback for settled session", "session_id", ev.SessionID, "kind", ev.Kind)
				return
			}
			slog.Warn("callback rejected by registry", "session_id", ev.SessionID, "kind", ev.Kind, "error", err)
			return
		}
		if created {
			slog.Info("session created",
				"session_id", ev.SessionID, "room", ev.Room, "participant", ev.Participant)
			go m.sendWelcome(ev.Room)
		}
		sm.Handle(ev)
	case event.KindLeave:
		m.closePipe(ev.SessionID)
		sm, ok := m.registry.Get(ev.SessionID)
		if !ok {
			// duplicate or late leave for a settled session
			slog.Debug("leave for unknown session; ignoring", "session_id", ev.SessionID)
			return
		}
		sm.Handle(ev)
	case event.KindError:
		if sm, ok := m.registry.Get(ev.SessionID); ok {
			sm.Handle(ev)
			return
		}
		slog.Warn("room backend error for unknown session",
			"session_id", ev.SessionID, "detail", ev.ErrDetail)
	}
}

func (m *Manager) handleUserTurn(sm *StateMachine, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()
	reply, ok := m.router.Route(ctx, sm.ID(), text)
	if !ok {
		return
	}
	sm.RecordAssistantTurn(reply)
	m.sendAssistantMessage(sm.Room(), reply)
}

func (m *Manager) handleTerminal(sm *StateMachine, status repository.SessionStatus) {
	m.router.EndSession(sm.ID())
	m.closePipe(sm.ID())
	m.registry.Remove(sm.ID())
	go m.publishSummary(sm, status)
}

func (m *Manager) sendWelcome(room string) {
	m.sendAssistantMessage(room, assistant.WelcomeMessage)
}

func (m *Manager) sendAssistantMessage(room, text string) {
	payload, err := json.Marshal(map[string]string{
		"type": "assistant_message",
		"text": text,
	})
	if err != nil {
		return
	}
	if err := m.backend.SendData(roombackend.DataMessage{
		Room:    room,
		Topic:   dataTopic,
		Payload: payload,
	}); err != nil {
		slog.Error("failed to send assistant message to room", "room", room, "error", err)
	}
}

func (m *Manager) publishSummary(sm *StateMachine, status repository.SessionStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	turns, err := m.repo.ListTurnsBySessionID(ctx, sm.ID())
	if err != nil {
		slog.Error("failed to list turns for session summary", "session_id", sm.ID(), "error", err)
		turns = nil
	}
	summary := buildSessionSummary(sm, status, time.Now(), turns)
	if err := m.webhook.SendSessionSummary(ctx, summary); err != nil {
		slog.Error("failed to send session summary webhook", "session_id", sm.ID(), "error", err)
	}
}

// Shutdown closes every live session and drains the writer. Sessions that
// do not confirm within the drain timeout end up orphaned, same as a lost
// room connection.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, sm := range m.registry.Active() {
		sm.Handle(event.Event{Kind: event.KindLeave, SessionID: sm.ID()})
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for m.registry.Len() > 0 {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown drain timed out", "remaining_sessions", m.registry.Len())
			m.writer.Close()
			return
		case <-ticker.C:
		}
	}
	m.writer.Close()
}
