package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

type recoveryTokensRepo struct {
	db dbtx
}

const recoveryTokenColumns = `id, owner_id, purpose, token_hash, origin_ip, created_at, expires_at, consumed_at, superseded_at`

func scanRecoveryToken(row rowScanner) (domain.RecoveryToken, error) {
	var (
		t                    domain.RecoveryToken
		purpose              string
		createdAt, expiresAt int64
		consumed, superseded sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.OwnerID, &purpose, &t.TokenHash, &t.OriginIP, &createdAt, &expiresAt, &consumed, &superseded)
	if err != nil {
		return domain.RecoveryToken{}, mapNotFound(err)
	}
	t.Purpose = domain.RecoveryPurpose(purpose)
	t.CreatedAt = fromMillis(createdAt)
	t.ExpiresAt = fromMillis(expiresAt)
	t.ConsumedAt = fromNullMillis(consumed)
	t.SupersededAt = fromNullMillis(superseded)
	return t, nil
}

func (r *recoveryTokensRepo) CreateRecoveryToken(ctx context.Context, t domain.RecoveryToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recovery_tokens (`+recoveryTokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.OwnerID,
		string(t.Purpose),
		t.TokenHash,
		t.OriginIP,
		toMillis(t.CreatedAt),
		toMillis(t.ExpiresAt),
		toNullMillis(t.ConsumedAt),
		toNullMillis(t.SupersededAt),
	)
	return mapWriteError(err)
}

func (r *recoveryTokensRepo) GetRecoveryTokenByHash(ctx context.Context, hash string) (domain.RecoveryToken, error) {
	return scanRecoveryToken(r.db.QueryRowContext(ctx,
		`SELECT `+recoveryTokenColumns+` FROM recovery_tokens WHERE token_hash = ?`, hash))
}

func (r *recoveryTokensRepo) SupersedeRecoveryTokens(
	ctx context.Context,
	ownerID string,
	purpose domain.RecoveryPurpose,
	now time.Time,
) (int64, error) {
	return affected(r.db.ExecContext(ctx,
		`UPDATE recovery_tokens
		    SET superseded_at = ?
		  WHERE owner_id = ? AND purpose = ?
		    AND consumed_at IS NULL AND superseded_at IS NULL`,
		toMillis(now), ownerID, string(purpose)))
}

func (r *recoveryTokensRepo) ConsumeRecoveryToken(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recovery_tokens
		    SET consumed_at = ?
		  WHERE id = ? AND consumed_at IS NULL AND superseded_at IS NULL
		    AND expires_at > ?`,
		toMillis(now), id, toMillis(now))
	return mustAffect(res, err, store.ErrConflict)
}

func (r *recoveryTokensRepo) ListRecoveryTokens(
	ctx context.Context,
	ownerID string,
	purpose domain.RecoveryPurpose,
) ([]domain.RecoveryToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recoveryTokenColumns+` FROM recovery_tokens
		  WHERE owner_id = ? AND purpose = ?
		  ORDER BY created_at DESC, id DESC`,
		ownerID, string(purpose))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RecoveryToken
	for rows.Next() {
		t, err := scanRecoveryToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *recoveryTokensRepo) CountRecoveryTokens(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recovery_tokens`).Scan(&n)
	return n, err
}

func (r *recoveryTokensRepo) DeleteExpiredRecoveryTokens(ctx context.Context, before time.Time) (int64, error) {
	return affected(r.db.ExecContext(ctx,
		`DELETE FROM recovery_tokens WHERE expires_at < ?`, toMillis(before)))
}
