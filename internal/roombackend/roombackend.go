package roombackend

import (
	"context"
	"time"
)

// AgentIdentity is the participant identity the worker joins rooms under.
const AgentIdentity = "voicedesk-agent"

type CallbackKind string

const (
	CallbackJoin        CallbackKind = "join"
	CallbackLeave       CallbackKind = "leave"
	CallbackSpeechStart CallbackKind = "speech_start"
	CallbackSpeechEnd   CallbackKind = "speech_end"
	CallbackTranscript  CallbackKind = "transcript"
	CallbackError       CallbackKind = "error"
)

// Callback is a raw room backend notification, delivered at-least-once and
// order-preserving per participant.
type Callback struct {
	Kind        CallbackKind
	Room        string
	Participant string
	// JoinEpoch is the backend-assigned unix second of the participant's
	// connection. A reconnect within the same logical session keeps the
	// epoch; a fresh join gets a new one.
	JoinEpoch int64
	Text      string
	IsFinal   bool
	ErrDetail string
	Timestamp time.Time
}

// AudioPacket carries one encoded audio frame from a participant track.
type AudioPacket struct {
	Room        string
	Participant string
	JoinEpoch   int64
	Opus        []byte
}

// RoomSession identifies one live participant connection, as reported by the
// backend's room listing. Used by startup reconciliation.
type RoomSession struct {
	Room        string
	Participant string
	JoinEpoch   int64
}

type DataMessage struct {
	Room    string
	Topic   string
	Payload []byte
}

type Client interface {
	Connect(ctx context.Context) error
	Close() error
	RegisterCallbackHandler(handler func(Callback))
	RegisterAudioHandler(handler func(AudioPacket))
	ListActiveSessions(ctx context.Context) ([]RoomSession, error)
	SendData(msg DataMessage) error
}
