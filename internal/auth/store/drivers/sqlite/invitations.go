package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

type invitationsRepo struct {
	db dbtx
}

const invitationColumns = `id, email, role, invited_by, created_at, expires_at, accepted_at, account_id`

func scanInvitation(row rowScanner) (domain.Invitation, error) {
	var (
		inv                  domain.Invitation
		invitedBy, accountID sql.NullString
		createdAt, expiresAt int64
		acceptedAt           sql.NullInt64
	)
	err := row.Scan(&inv.ID, &inv.Email, &inv.Role, &invitedBy, &createdAt, &expiresAt, &acceptedAt, &accountID)
	if err != nil {
		return domain.Invitation{}, mapNotFound(err)
	}
	inv.InvitedBy = mapNullString(invitedBy)
	inv.AccountID = mapNullString(accountID)
	inv.CreatedAt = fromMillis(createdAt)
	inv.ExpiresAt = fromMillis(expiresAt)
	inv.AcceptedAt = fromNullMillis(acceptedAt)
	return inv, nil
}

func (r *invitationsRepo) CreateInvitation(ctx context.Context, inv domain.Invitation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invitations (`+invitationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		strings.ToLower(inv.Email),
		inv.Role,
		mapStringNull(inv.InvitedBy),
		toMillis(inv.CreatedAt),
		toMillis(inv.ExpiresAt),
		toNullMillis(inv.AcceptedAt),
		mapStringNull(inv.AccountID),
	)
	return mapWriteError(err)
}

func (r *invitationsRepo) GetInvitationByID(ctx context.Context, id string) (domain.Invitation, error) {
	return scanInvitation(r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = ?`, id))
}

func (r *invitationsRepo) ExtendInvitation(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE invitations SET expires_at = ? WHERE id = ? AND accepted_at IS NULL`,
		toMillis(expiresAt), id)
	return mustAffect(res, err, store.ErrConflict)
}

func (r *invitationsRepo) MarkInvitationAccepted(ctx context.Context, id, accountID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE invitations SET accepted_at = ?, account_id = ? WHERE id = ? AND accepted_at IS NULL`,
		toMillis(now), accountID, id)
	return mustAffect(res, err, store.ErrConflict)
}

func (r *invitationsRepo) DeleteExpiredInvitations(ctx context.Context, before time.Time) (int64, error) {
	return affected(r.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE accepted_at IS NULL AND expires_at < ?`, toMillis(before)))
}
