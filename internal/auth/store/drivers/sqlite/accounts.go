package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

type accountsRepo struct {
	db dbtx
}

const accountColumns = `id, email, username, password_hash, role, permissions, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a                    domain.Account
		perms, status        string
		createdAt, updatedAt int64
	)
	err := row.Scan(&a.ID, &a.Email, &a.Username, &a.PasswordHash, &a.Role, &perms, &status, &createdAt, &updatedAt)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	a.Permissions = splitFields(perms)
	a.Status = domain.AccountStatus(status)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return a, nil
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

func (r *accountsRepo) GetAccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, strings.ToLower(email)))
}

func (r *accountsRepo) GetAccountByUsername(ctx context.Context, username string) (domain.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username))
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	status := a.Status
	if status == "" {
		status = domain.AccountActive
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		strings.ToLower(a.Email),
		a.Username,
		a.PasswordHash,
		a.Role,
		strings.Join(a.Permissions, " "),
		string(status),
		toMillis(a.CreatedAt),
		toMillis(a.UpdatedAt),
	)
	return mapWriteError(err)
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toMillis(now), id)
	return mustAffect(res, err, store.ErrNotFound)
}

func (r *accountsRepo) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(now), id)
	return mustAffect(res, err, store.ErrNotFound)
}

func (r *accountsRepo) CountAccounts(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	return n, err
}
