package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `id, account_id, device_id, created_at, last_used_at, expires_at, revoked_at`

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s                              domain.Session
		createdAt, lastUsed, expiresAt int64
		revokedAt                      sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.AccountID, &s.DeviceID, &createdAt, &lastUsed, &expiresAt, &revokedAt)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.CreatedAt = fromMillis(createdAt)
	s.LastUsedAt = fromMillis(lastUsed)
	s.ExpiresAt = fromMillis(expiresAt)
	s.RevokedAt = fromNullMillis(revokedAt)
	return s, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.AccountID,
		s.DeviceID,
		toMillis(s.CreatedAt),
		toMillis(s.LastUsedAt),
		toMillis(s.ExpiresAt),
		toNullMillis(s.RevokedAt),
	)
	return mapWriteError(err)
}

func (r *sessionsRepo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM refresh_sessions WHERE id = ?`, id))
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, usedAt, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_sessions SET last_used_at = ?, expires_at = ? WHERE id = ? AND revoked_at IS NULL`,
		toMillis(usedAt), toMillis(expiresAt), id)
	return mustAffect(res, err, store.ErrConflict)
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		toMillis(now), id)
	return err
}

func (r *sessionsRepo) RevokeAccountSessions(ctx context.Context, accountID string, now time.Time) (int64, error) {
	return affected(r.db.ExecContext(ctx,
		`UPDATE refresh_sessions SET revoked_at = ? WHERE account_id = ? AND revoked_at IS NULL`,
		toMillis(now), accountID))
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	return affected(r.db.ExecContext(ctx,
		`DELETE FROM refresh_sessions WHERE expires_at < ?`, toMillis(before)))
}
