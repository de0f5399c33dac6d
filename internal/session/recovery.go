package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/movehive/voicedesk/internal/event"
	"github.com/movehive/voicedesk/internal/repository"
	"github.com/movehive/voicedesk/internal/roombackend"
)

// RecoveryCoordinator reconciles persisted session state against the live
// room backend at startup. The store is ground truth; in-memory machines are
// a cache rebuilt here, never the reverse. The registry stays shut until
// reconciliation has run to completion.
type RecoveryCoordinator struct {
	repo     repository.SessionRepository
	backend  roombackend.Client
	registry *Registry
	resume   func(s repository.Session) *StateMachine
}

func NewRecoveryCoordinator(repo repository.SessionRepository, backend roombackend.Client, registry *Registry, resume func(s repository.Session) *StateMachine) *RecoveryCoordinator {
	return &RecoveryCoordinator{
		repo:     repo,
		backend:  backend,
		registry: registry,
		resume:   resume,
	}
}

// Reconcile resumes every persisted Active/Closing session that still has a
// live backend connection and orphans the rest. Any failure here is fatal to
// the process: opening the registry on top of an unknown resume state is a
// correctness risk, not a performance one.
func (rc *RecoveryCoordinator) Reconcile(ctx context.Context) error {
	stale, err := rc.repo.ListSessionsByStatus(ctx,
		repository.SessionStatusPending,
		repository.SessionStatusActive,
		repository.SessionStatusClosing)
	if err != nil {
		return fmt.Errorf("list persisted sessions: %w", err)
	}

	live, err := rc.backend.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("list live room sessions: %w", err)
	}
	liveIDs := make(map[string]struct{}, len(live))
	for _, rs := range live {
		liveIDs[event.DeriveSessionID(rs.Room, rs.Participant, rs.JoinEpoch)] = struct{}{}
	}

	resumed, orphaned := 0, 0
	for _, s := range stale {
		if _, isLive := liveIDs[s.ID]; isLive {
			sm := rc.resume(s)
			if err := rc.registry.Resume(sm); err != nil {
				return fmt.Errorf("resume session %s: %w", s.ID, err)
			}
			if err := rc.commitStatus(ctx, s.ID, repository.SessionStatusActive, nil); err != nil {
				return fmt.Errorf("commit resumed status for %s: %w", s.ID, err)
			}
			slog.Info("resumed session from store",
				"session_id", s.ID, "room", s.Room, "last_sequence", s.LastSequence)
			resumed++
			continue
		}
		endedAt := time.Now()
		if err := rc.commitStatus(ctx, s.ID, repository.SessionStatusOrphaned, &endedAt); err != nil {
			return fmt.Errorf("orphan session %s: %w", s.ID, err)
		}
		slog.Warn("orphaned session with no live backend match",
			"session_id", s.ID, "room", s.Room, "previous_status", s.Status)
		orphaned++
	}

	rc.registry.Open()
	slog.Info("startup reconciliation complete", "resumed", resumed, "orphaned", orphaned)
	return nil
}

// commitStatus retries directly against the store. Recovery runs before the
// writer accepts traffic, so the runtime single-writer policy is not in
// force yet.
func (rc *RecoveryCoordinator) commitStatus(ctx context.Context, sessionID string, status repository.SessionStatus, endedAt *time.Time) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	op := func() error {
		return rc.repo.UpdateSessionStatus(ctx, repository.UpdateSessionStatusInput{
			SessionID: sessionID,
			Status:    status,
			EndedAt:   endedAt,
		})
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
