package repository

import "time"

type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusActive   SessionStatus = "active"
	SessionStatusClosing  SessionStatus = "closing"
	SessionStatusClosed   SessionStatus = "closed"
	SessionStatusOrphaned SessionStatus = "orphaned"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusClosed || s == SessionStatusOrphaned
}

type Session struct {
	ID           string
	Room         string
	Participant  string
	Status       SessionStatus
	StartedAt    time.Time
	EndedAt      *time.Time
	LastSequence int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Turn struct {
	SessionID  string
	Sequence   int64
	Speaker    string
	Text       *string
	RecordedAt time.Time
}

type MovingRequest struct {
	RequestID        string
	CustomerName     string
	Email            string
	PhoneNumber      string
	PhoneType        string
	FromAddress      string
	FromBuildingType string
	FromBedrooms     int
	ToAddress        string
	MoveDate         string
	FlexibleDate     bool
	AssistCar        bool
	CarYear          *string
	CarMake          *string
	CarModel         *string
}
