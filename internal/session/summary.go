package session

import (
	"time"

	"github.com/movehive/voicedesk/internal/repository"
	"github.com/movehive/voicedesk/internal/webhook"
)

func buildSessionSummary(sm *StateMachine, status repository.SessionStatus, endedAt time.Time, turns []repository.Turn) webhook.SessionSummary {
	startedAt := sm.StartedAt()
	duration := endedAt.Sub(startedAt)
	if duration < 0 {
		duration = 0
	}

	summaryTurns := make([]webhook.SummaryTurn, 0, len(turns))
	for _, turn := range turns {
		text := ""
		if turn.Text != nil {
			text = *turn.Text
		}
		summaryTurns = append(summaryTurns, webhook.SummaryTurn{
			Sequence:   turn.Sequence,
			Speaker:    turn.Speaker,
			Text:       text,
			RecordedAt: turn.RecordedAt,
		})
	}

	return webhook.SessionSummary{
		SessionID:   sm.ID(),
		Room:        sm.Room(),
		Participant: sm.Participant(),
		Status:      string(status),
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		DurationSec: int64(duration / time.Second),
		TurnCount:   len(summaryTurns),
		Turns:       summaryTurns,
	}
}
