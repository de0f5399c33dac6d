package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/movehive/voicedesk/internal/audio"
	"github.com/movehive/voicedesk/internal/event"
	"github.com/movehive/voicedesk/internal/roombackend"
	"github.com/movehive/voicedesk/internal/transcriber"
)

// audioPipe carries one session's raw audio into the transcriber: decoded
// packets queue in the decoder, a pump drains them on a fixed tick, and
// final recognition results re-enter the pipeline as transcript callbacks.
type audioPipe struct {
	sessionID string
	decoder   audio.Decoder
	stream    transcriber.StreamWriter
	cancel    context.CancelFunc
}

// HandleAudio accepts one encoded audio frame from a participant track.
// Used only when the room delivers raw audio instead of transcriptions.
func (m *Manager) HandleAudio(pkt roombackend.AudioPacket) {
	if !m.cfg.AudioTranscribe {
		return
	}
	sessionID := event.DeriveSessionID(pkt.Room, pkt.Participant, pkt.JoinEpoch)

	m.mu.Lock()
	pipe, ok := m.pipes[sessionID]
	m.mu.Unlock()
	if ok {
		pipe.decoder.WritePacket(pkt.Opus)
		return
	}

	if _, live := m.registry.Get(sessionID); !live {
		// audio racing ahead of the join callback, or trailing a close
		return
	}
	pipe, err := m.openPipe(sessionID, pkt)
	if err != nil {
		slog.Error("failed to open transcription pipe",
			"session_id", sessionID, "room", pkt.Room, "error", err)
		return
	}
	pipe.decoder.WritePacket(pkt.Opus)
}

func (m *Manager) openPipe(sessionID string, pkt roombackend.AudioPacket) (*audioPipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pipe, ok := m.pipes[sessionID]; ok {
		return pipe, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	receiver := &pipeReceiver{
		manager:     m,
		room:        pkt.Room,
		participant: pkt.Participant,
		joinEpoch:   pkt.JoinEpoch,
	}
	stream, err := m.transcriber.StartStreaming(ctx, sessionID, m.cfg.TranscribeLanguage, receiver)
	if err != nil {
		cancel()
		return nil, err
	}
	pipe := &audioPipe{
		sessionID: sessionID,
		decoder:   m.newDecoder(),
		stream:    stream,
		cancel:    cancel,
	}
	m.pipes[sessionID] = pipe
	go pipe.pump(ctx)
	slog.Info("transcription pipe opened", "session_id", sessionID, "room", pkt.Room)
	return pipe, nil
}

func (m *Manager) closePipe(sessionID string) {
	m.mu.Lock()
	pipe, ok := m.pipes[sessionID]
	if ok {
		delete(m.pipes, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	pipe.cancel()
	_ = pipe.stream.Close()
	pipe.decoder.Close()
	slog.Info("transcription pipe closed", "session_id", sessionID)
}

func (p *audioPipe) pump(ctx context.Context) {
	ticker := time.NewTicker(pcmPumpInterval)
	defer ticker.Stop()
	buf := make([]byte, pcmFrameBytes)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.decoder.ReadPCM(buf)
			if err != nil {
				slog.Warn("failed to read decoded pcm", "session_id", p.sessionID, "error", err)
				continue
			}
			if n == 0 {
				continue
			}
			if err := p.stream.Write(buf[:n]); err != nil {
				slog.Error("failed to write pcm to transcriber stream",
					"session_id", p.sessionID, "pcm_bytes", n, "error", err)
				return
			}
		}
	}
}

type pipeReceiver struct {
	manager     *Manager
	room        string
	participant string
	joinEpoch   int64
}

func (r *pipeReceiver) OnResult(text string, isFinal bool) {
	if !isFinal || strings.TrimSpace(text) == "" {
		return
	}
	r.manager.HandleCallback(roombackend.Callback{
		Kind:        roombackend.CallbackTranscript,
		Room:        r.room,
		Participant: r.participant,
		JoinEpoch:   r.joinEpoch,
		Text:        text,
		IsFinal:     true,
		Timestamp:   time.Now(),
	})
}

func (r *pipeReceiver) OnError(err error) {
	if err == nil || strings.Contains(err.Error(), "context canceled") {
		return
	}
	slog.Error("transcriber stream error",
		"room", r.room, "participant", r.participant, "error", err)
}
