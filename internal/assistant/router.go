package assistant

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"sync"

	"github.com/movehive/voicedesk/internal/repository"
)

var requestIDPattern = regexp.MustCompile(`\b\d{6}\b`)

// GenerateRequestID returns a random 6-digit request id, the shape customers
// are asked to read back over the phone.
func GenerateRequestID() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "100000"
	}
	return fmt.Sprintf("%06d", n.Int64()+100000)
}

// Router turns final user transcripts into assistant replies: either a
// lookup of an existing moving request or the next step of the intake
// script. One intake state is kept per session and dropped when the session
// ends.
type Router struct {
	intake repository.IntakeRepository

	mu     sync.Mutex
	states map[string]*intakeState
}

func NewRouter(intake repository.IntakeRepository) *Router {
	return &Router{
		intake: intake,
		states: make(map[string]*intakeState),
	}
}

// Route produces the assistant's reply to a final user turn. The boolean is
// false when the assistant has nothing to say.
func (r *Router) Route(ctx context.Context, sessionID, text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	if isLookupRequest(text) {
		return r.handleLookup(ctx, text), true
	}
	return r.continueIntake(ctx, sessionID, text)
}

// EndSession drops any in-progress intake state for the session.
func (r *Router) EndSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, sessionID)
}

func isLookupRequest(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "check") ||
		strings.Contains(lower, "look up") ||
		strings.Contains(lower, "my details")
}

func (r *Router) handleLookup(ctx context.Context, text string) string {
	requestID := requestIDPattern.FindString(text)
	if requestID == "" {
		return promptForRequestID
	}
	req, err := r.intake.GetMovingRequest(ctx, requestID)
	if err != nil {
		slog.Error("moving request lookup failed", "request_id", requestID, "error", err)
		return lookupFailed
	}
	if req == nil {
		return lookupNotFound
	}
	return FormatMovingRequest(req)
}

func (r *Router) continueIntake(ctx context.Context, sessionID, text string) (string, bool) {
	r.mu.Lock()
	state, ok := r.states[sessionID]
	if !ok {
		state = newIntakeState()
		r.states[sessionID] = state
	}
	reply, complete := state.consume(text)
	r.mu.Unlock()

	if !complete {
		return reply, reply != ""
	}
	return r.finishIntake(ctx, sessionID, state), true
}

func (r *Router) finishIntake(ctx context.Context, sessionID string, state *intakeState) string {
	req := state.request
	req.RequestID = GenerateRequestID()
	if err := r.intake.CreateMovingRequest(ctx, req); err != nil {
		slog.Error("failed to save moving request", "session_id", sessionID, "error", err)
		// state stays registered so the next utterance retries the save
		return intakeSaveFailed
	}
	r.EndSession(sessionID)
	slog.Info("moving request created", "session_id", sessionID, "request_id", req.RequestID)
	return "All set! Your request ID is " + req.RequestID + ". Please keep it handy.\n\n" + FormatMovingRequest(&req)
}
