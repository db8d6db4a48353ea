package postgres

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/potluck-hub/potluck-hub/internal/domain/session"
)

const sessionColumns = `id, session_id, token_hash, user_id, provider, created_at, last_accessed_at, expires_at, user_agent, ip_address`

// SessionRepository implements session.Repository.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateAndTrim holds a transaction-scoped advisory lock on the user so that
// concurrent logins of the same user are applied one after another.
func (r *SessionRepository) CreateAndTrim(ctx context.Context, s *session.Session, maxPerUser int) ([]*session.Session, error) {
	var evicted []*session.Session
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, s.UserID.String()); err != nil {
			return err
		}

		if maxPerUser > 0 {
			var active []*session.Session
			if err := pgxscan.Select(ctx, tx, &active, `
				SELECT `+sessionColumns+`
				FROM sessions
				WHERE user_id=$1 AND expires_at > $2
				ORDER BY last_accessed_at DESC, created_at DESC
			`, s.UserID, s.CreatedAt); err != nil {
				return err
			}
			if len(active) >= maxPerUser {
				evicted = active[maxPerUser-1:]
				ids := make([]int64, 0, len(evicted))
				for _, e := range evicted {
					ids = append(ids, e.ID)
				}
				if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = ANY($1)`, ids); err != nil {
					return err
				}
			}
		}

		return tx.QueryRow(ctx, `
			INSERT INTO sessions
			(session_id, token_hash, user_id, provider, created_at, last_accessed_at, expires_at, user_agent, ip_address)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id
		`, s.SessionID, s.TokenHash, s.UserID, s.Provider, s.CreatedAt, s.LastAccessedAt, s.ExpiresAt, s.UserAgent, s.IPAddress).Scan(&s.ID)
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*session.Session, error) {
	var s session.Session
	err := pgxscan.Get(ctx, r.pool, &s, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE token_hash=$1 AND expires_at > $2
	`, tokenHash, now)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]*session.Session, error) {
	var list []*session.Session
	err := pgxscan.Select(ctx, r.pool, &list, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id=$1 AND expires_at > $2
		ORDER BY last_accessed_at DESC, created_at DESC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *SessionRepository) UpdateLastAccessed(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_accessed_at=$1 WHERE token_hash=$2`, at, tokenHash)
	return err
}

func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	var s session.Session
	err := pgxscan.Get(ctx, r.pool, &s, `DELETE FROM sessions WHERE token_hash=$1 RETURNING `+sessionColumns, tokenHash)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	res, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id=$1`, userID)
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}
