package dashboard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/movehive/voicedesk/internal/repository"
)

const defaultSessionLimit = 100

// Handler serves the read-only dashboard API on top of the store's read
// model. It never writes; the worker process remains the sole writer.
type Handler struct {
	readModel repository.ReadModel
}

func NewHandler(readModel repository.ReadModel) *Handler {
	return &Handler{readModel: readModel}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /api/sessions", h.handleListSessions)
	mux.HandleFunc("GET /api/sessions/stats", h.handleSessionStats)
	mux.HandleFunc("GET /api/sessions/{id}/turns", h.handleListTurns)
	mux.HandleFunc("GET /api/requests/{id}", h.handleGetRequest)
	return mux
}

type sessionResponse struct {
	ID           string     `json:"id"`
	Room         string     `json:"room"`
	Participant  string     `json:"participant"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	LastSequence int64      `json:"last_sequence"`
}

type turnResponse struct {
	Sequence   int64     `json:"sequence"`
	Speaker    string    `json:"speaker"`
	Text       *string   `json:"text"`
	RecordedAt time.Time `json:"recorded_at"`
}

type movingRequestResponse struct {
	RequestID        string  `json:"request_id"`
	CustomerName     string  `json:"customer_name"`
	Email            string  `json:"email"`
	PhoneNumber      string  `json:"phone_number"`
	PhoneType        string  `json:"phone_type"`
	FromAddress      string  `json:"from_address"`
	FromBuildingType string  `json:"from_building_type"`
	FromBedrooms     int     `json:"from_bedrooms"`
	ToAddress        string  `json:"to_address"`
	MoveDate         string  `json:"move_date"`
	FlexibleDate     bool    `json:"flexible_date"`
	AssistCar        bool    `json:"assist_car"`
	CarYear          *string `json:"car_year"`
	CarMake          *string `json:"car_make"`
	CarModel         *string `json:"car_model"`
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSessionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.readModel.ListSessions(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:           s.ID,
			Room:         s.Room,
			Participant:  s.Participant,
			Status:       string(s.Status),
			StartedAt:    s.StartedAt,
			EndedAt:      s.EndedAt,
			LastSequence: s.LastSequence,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.readModel.CountSessionsByStatus(r.Context())
	if err != nil {
		slog.Error("failed to count sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count sessions")
		return
	}
	out := make(map[string]int64, len(counts))
	for status, count := range counts {
		out[string(status)] = count
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListTurns(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	turns, err := h.readModel.ListTurnsBySessionID(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to list turns", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list turns")
		return
	}

	out := make([]turnResponse, 0, len(turns))
	for _, turn := range turns {
		out = append(out, turnResponse{
			Sequence:   turn.Sequence,
			Speaker:    turn.Speaker,
			Text:       turn.Text,
			RecordedAt: turn.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")
	req, err := h.readModel.GetMovingRequest(r.Context(), requestID)
	if err != nil {
		slog.Error("failed to get moving request", "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get moving request")
		return
	}
	if req == nil {
		writeError(w, http.StatusNotFound, "moving request not found")
		return
	}
	writeJSON(w, http.StatusOK, movingRequestResponse{
		RequestID:        req.RequestID,
		CustomerName:     req.CustomerName,
		Email:            req.Email,
		PhoneNumber:      req.PhoneNumber,
		PhoneType:        req.PhoneType,
		FromAddress:      req.FromAddress,
		FromBuildingType: req.FromBuildingType,
		FromBedrooms:     req.FromBedrooms,
		ToAddress:        req.ToAddress,
		MoveDate:         req.MoveDate,
		FlexibleDate:     req.FlexibleDate,
		AssistCar:        req.AssistCar,
		CarYear:          req.CarYear,
		CarMake:          req.CarMake,
		CarModel:         req.CarModel,
	})
}

func parseSessionFilter(r *http.Request) (repository.SessionFilter, error) {
	filter := repository.SessionFilter{Limit: defaultSessionLimit}
	q := r.URL.Query()

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := repository.SessionStatus(strings.TrimSpace(part))
			switch status {
			case repository.SessionStatusPending,
				repository.SessionStatusActive,
				repository.SessionStatusClosing,
				repository.SessionStatusClosed,
				repository.SessionStatusOrphaned:
				filter.Statuses = append(filter.Statuses, status)
			default:
				return filter, fmt.Errorf("unknown status %q", part)
			}
		}
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid from timestamp %q", raw)
		}
		filter.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid to timestamp %q", raw)
		}
		filter.To = &to
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
