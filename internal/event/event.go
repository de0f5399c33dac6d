package event

import (
	"time"
)

type Kind string

const (
	KindJoin            Kind = "join"
	KindLeave           Kind = "leave"
	KindSpeechStart     Kind = "speech_start"
	KindSpeechEnd       Kind = "speech_end"
	KindTranscriptChunk Kind = "transcript_chunk"
	KindError           Kind = "error"
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Event is the canonical form every room backend callback is reduced to
// before any session logic sees it.
type Event struct {
	SessionID   string
	Kind        Kind
	Room        string
	Participant string
	Speaker     Speaker
	Text        string
	IsFinal     bool
	ErrDetail   string
	ObservedAt  time.Time
}
