package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS mic_requests (
	id          BIGINT PRIMARY KEY,
	room_id     TEXT        NOT NULL,
	user_id     TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	decided_at  TIMESTAMPTZ,
	decided_by  TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS mic_requests_room_user ON mic_requests (room_id, user_id, id);
`

// HistoryStore persists every mic request transition as an upsert by id.
type HistoryStore struct {
	pool *pgxpool.Pool
}

func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

var errNilPool = errors.New("postgres: nil pool")

func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errNilPool
	}
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *HistoryStore) Save(ctx context.Context, r domain.MicRequest) error {
	if s == nil || s.pool == nil {
		return errNilPool
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mic_requests (id, room_id, user_id, status, created_at, decided_at, decided_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET status = EXCLUDED.status,
		              decided_at = EXCLUDED.decided_at,
		              decided_by = EXCLUDED.decided_by
	`, int64(r.ID), string(r.RoomID), string(r.UserID), string(r.Status), r.CreatedAt, r.DecidedAt, string(r.DecidedBy))
	if err != nil {
		return fmt.Errorf("postgres: save request %d: %w: %w", r.ID, domain.ErrNetwork, err)
	}
	return nil
}

// LastID is the highest stored request id, 0 for an empty table.
func (s *HistoryStore) LastID(ctx context.Context) (domain.RequestID, error) {
	if s == nil || s.pool == nil {
		return 0, errNilPool
	}
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM mic_requests`).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: last id: %w", err)
	}
	return domain.RequestID(id), nil
}

var _ core.HistoryReader = (*HistoryStore)(nil)

// ByUser returns the latest limit requests of user in room, oldest first.
func (s *HistoryStore) ByUser(ctx context.Context, room domain.RoomID, user domain.UserID, limit int) ([]domain.MicRequest, error) {
	if s == nil || s.pool == nil {
		return nil, errNilPool
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, user_id, status, created_at, decided_at, decided_by
		FROM (
			SELECT * FROM mic_requests
			WHERE room_id = $1 AND user_id = $2
			ORDER BY id DESC
			LIMIT $3
		) latest
		ORDER BY id ASC
	`, string(room), string(user), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query history: %w: %w", domain.ErrNetwork, err)
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MicRequest, error) {
		var (
			r                       domain.MicRequest
			id                      int64
			roomID, userID, by, raw string
		)
		if err := row.Scan(&id, &roomID, &userID, &raw, &r.CreatedAt, &r.DecidedAt, &by); err != nil {
			return r, err
		}
		status, err := domain.ParseRequestStatus(raw)
		if err != nil {
			return r, err
		}
		r.ID, r.RoomID, r.UserID, r.Status, r.DecidedBy = domain.RequestID(id), domain.RoomID(roomID), domain.UserID(userID), status, domain.UserID(by)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history: %w", err)
	}
	return out, nil
}
