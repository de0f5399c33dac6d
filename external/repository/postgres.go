package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/movehive/voicedesk/internal/repository"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

const sessionColumns = `session_id, room, participant, status, started_at, ended_at, last_sequence, created_at, updated_at`

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	err := row.Scan(&s.ID, &s.Room, &s.Participant, &s.Status, &s.StartedAt, &s.EndedAt, &s.LastSequence, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	// At-least-once join callbacks make duplicate creates routine; the
	// conflict arm leaves the existing row untouched.
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, room, participant, status, started_at)
		 VALUES ($1, $2, $3, 'pending', $4)
		 ON CONFLICT (session_id) DO NOTHING`,
		input.SessionID, input.Room, input.Participant, input.StartedAt)
	if err != nil {
		return nil, err
	}
	return r.GetSession(ctx, input.SessionID)
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) UpdateSessionStatus(ctx context.Context, input repository.UpdateSessionStatusInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions
		 SET status = $2, ended_at = COALESCE($3, ended_at), updated_at = NOW()
		 WHERE session_id = $1 AND status NOT IN ('closed', 'orphaned')`,
		input.SessionID, input.Status, input.EndedAt)
	return err
}

func (r *PostgresRepository) ListSessionsByStatus(ctx context.Context, statuses ...repository.SessionStatus) ([]repository.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ANY($1) ORDER BY started_at ASC`,
		statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *PostgresRepository) UpsertTurn(ctx context.Context, input repository.UpsertTurnInput) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Retried commits for a settled sequence no-op except for the
	// append-only text refinement: a NULL text may be filled in once,
	// speaker and sequence stay as first written.
	if _, err := tx.Exec(ctx,
		`INSERT INTO turns (session_id, sequence, speaker, text, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id, sequence)
		 DO UPDATE SET text = COALESCE(turns.text, EXCLUDED.text)`,
		input.SessionID, input.Sequence, input.Speaker, input.Text, input.RecordedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sessions
		 SET last_sequence = GREATEST(last_sequence, $2), updated_at = NOW()
		 WHERE session_id = $1`,
		input.SessionID, input.Sequence); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) ListTurnsBySessionID(ctx context.Context, sessionID string) ([]repository.Turn, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, sequence, speaker, text, recorded_at
		 FROM turns WHERE session_id = $1 ORDER BY sequence ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Turn
	for rows.Next() {
		var turn repository.Turn
		if err := rows.Scan(&turn.SessionID, &turn.Sequence, &turn.Speaker, &turn.Text, &turn.RecordedAt); err != nil {
			return nil, err
		}
		list = append(list, turn)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) ListSessions(ctx context.Context, filter repository.SessionFilter) ([]repository.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	args := []any{}
	if len(filter.Statuses) > 0 {
		args = append(args, statusStrings(filter.Statuses))
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(` AND started_at >= $%d`, len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(` AND started_at <= $%d`, len(args))
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *PostgresRepository) CountSessionsByStatus(ctx context.Context) (map[repository.SessionStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[repository.SessionStatus]int64)
	for rows.Next() {
		var status repository.SessionStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *PostgresRepository) CreateMovingRequest(ctx context.Context, req repository.MovingRequest) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO moving_requests
		 (request_id, customer_name, email, phone_number, phone_type,
		  from_address, from_building_type, from_bedrooms, to_address,
		  move_date, flexible_date, assist_car, car_year, car_make, car_model)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		req.RequestID, req.CustomerName, req.Email, req.PhoneNumber, req.PhoneType,
		req.FromAddress, req.FromBuildingType, req.FromBedrooms, req.ToAddress,
		req.MoveDate, req.FlexibleDate, req.AssistCar, req.CarYear, req.CarMake, req.CarModel)
	return err
}

func (r *PostgresRepository) GetMovingRequest(ctx context.Context, requestID string) (*repository.MovingRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT request_id, customer_name, email, phone_number, phone_type,
		        from_address, from_building_type, from_bedrooms, to_address,
		        move_date, flexible_date, assist_car, car_year, car_make, car_model
		 FROM moving_requests WHERE request_id = $1`,
		requestID)
	var req repository.MovingRequest
	err := row.Scan(&req.RequestID, &req.CustomerName, &req.Email, &req.PhoneNumber, &req.PhoneType,
		&req.FromAddress, &req.FromBuildingType, &req.FromBedrooms, &req.ToAddress,
		&req.MoveDate, &req.FlexibleDate, &req.AssistCar, &req.CarYear, &req.CarMake, &req.CarModel)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func statusStrings(statuses []repository.SessionStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func collectSessions(rows pgx.Rows) ([]repository.Session, error) {
	var list []repository.Session
	for rows.Next() {
		var s repository.Session
		var endedAt *time.Time
		if err := rows.Scan(&s.ID, &s.Room, &s.Participant, &s.Status, &s.StartedAt, &endedAt, &s.LastSequence, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.EndedAt = endedAt
		list = append(list, s)
	}
	return list, rows.Err()
}
