package webhook

import (
	"context"
	"time"
)

type SummaryTurn struct {
	Sequence   int64     `json:"sequence"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SessionSummary is posted once per session on every terminal transition,
// so operators can audit Orphaned endings separately from clean Closed ones.
type SessionSummary struct {
	SessionID   string        `json:"session_id"`
	Room        string        `json:"room"`
	Participant string        `json:"participant"`
	Status      string        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	DurationSec int64         `json:"duration_seconds"`
	TurnCount   int           `json:"turn_count"`
	Turns       []SummaryTurn `json:"turns"`
}

type Sender interface {
	SendSessionSummary(ctx context.Context, summary SessionSummary) error
}
