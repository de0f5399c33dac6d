package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/movehive/voicedesk/internal/roombackend"
)

// ErrMalformed marks a callback that cannot be normalized. Callers drop the
// event with a warning; it must never abort the pipeline.
var ErrMalformed = errors.New("malformed room callback")

var sessionNamespace = uuid.MustParse("9f2c7c1e-5b1a-4c3d-8e6f-2a9d0b4e7c11")

// DeriveSessionID maps (room, participant, join epoch) onto a stable
// identifier. Duplicate callbacks for the same connection derive the same id;
// a genuinely new join carries a new epoch and derives a new one.
func DeriveSessionID(room, participant string, joinEpoch int64) string {
	name := fmt.Sprintf("%s|%s|%d", room, participant, joinEpoch)
	return uuid.NewSHA1(sessionNamespace, []byte(name)).String()
}

type Normalizer struct {
	agentIdentity string
}

func NewNormalizer(agentIdentity string) *Normalizer {
	return &Normalizer{agentIdentity: agentIdentity}
}

func (n *Normalizer) Normalize(cb roombackend.Callback) (Event, error) {
	if cb.Room == "" || cb.Participant == "" {
		return Event{}, fmt.Errorf("%w: missing room or participant", ErrMalformed)
	}
	if cb.JoinEpoch <= 0 {
		return Event{}, fmt.Errorf("%w: missing join epoch", ErrMalformed)
	}

	kind, err := n.kindOf(cb.Kind)
	if err != nil {
		return Event{}, err
	}

	speaker := SpeakerUser
	if cb.Participant == n.agentIdentity {
		speaker = SpeakerAssistant
	}

	observedAt := time.Now()
	return Event{
		SessionID:   DeriveSessionID(cb.Room, cb.Participant, cb.JoinEpoch),
		Kind:        kind,
		Room:        cb.Room,
		Participant: cb.Participant,
		Speaker:     speaker,
		Text:        cb.Text,
		IsFinal:     cb.IsFinal,
		ErrDetail:   cb.ErrDetail,
		ObservedAt:  observedAt,
	}, nil
}

func (n *Normalizer) kindOf(kind roombackend.CallbackKind) (Kind, error) {
	switch kind {
	case roombackend.CallbackJoin:
		return KindJoin, nil
	case roombackend.CallbackLeave:
		return KindLeave, nil
	case roombackend.CallbackSpeechStart:
		return KindSpeechStart, nil
	case roombackend.CallbackSpeechEnd:
		return KindSpeechEnd, nil
	case roombackend.CallbackTranscript:
		return KindTranscriptChunk, nil
	case roombackend.CallbackError:
		return KindError, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}
}
