package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	SessionID   string
	Room        string
	Participant string
	StartedAt   time.Time
}

type UpdateSessionStatusInput struct {
	SessionID string
	Status    SessionStatus
	EndedAt   *time.Time
}

type UpsertTurnInput struct {
	SessionID  string
	Sequence   int64
	Speaker    string
	Text       *string
	RecordedAt time.Time
}

type SessionFilter struct {
	Statuses []SessionStatus
	From     *time.Time
	To       *time.Time
	Limit    int
}

type SessionRepository interface {
	// CreateSession is idempotent on session id: a duplicate create returns
	// the already-persisted row unchanged.
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	// UpdateSessionStatus never regresses a terminal status; such updates
	// are silent no-ops.
	UpdateSessionStatus(ctx context.Context, input UpdateSessionStatusInput) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessionsByStatus(ctx context.Context, statuses ...SessionStatus) ([]Session, error)
}

type TurnRepository interface {
	// UpsertTurn is idempotent on (session_id, sequence). A second commit of
	// a settled sequence no-ops, except that a NULL text is filled in when
	// the retry carries one. Speaker and sequence are never rewritten.
	UpsertTurn(ctx context.Context, input UpsertTurnInput) error
	ListTurnsBySessionID(ctx context.Context, sessionID string) ([]Turn, error)
}

type IntakeRepository interface {
	CreateMovingRequest(ctx context.Context, req MovingRequest) error
	GetMovingRequest(ctx context.Context, requestID string) (*MovingRequest, error)
}

// ReadModel is the dashboard-facing query surface. Read-only; eventually
// consistent with in-flight writer commits.
type ReadModel interface {
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	ListTurnsBySessionID(ctx context.Context, sessionID string) ([]Turn, error)
	GetMovingRequest(ctx context.Context, requestID string) (*MovingRequest, error)
	CountSessionsByStatus(ctx context.Context) (map[SessionStatus]int64, error)
}

type Repository interface {
	SessionRepository
	TurnRepository
	IntakeRepository
	ReadModel
}
