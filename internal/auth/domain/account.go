package domain

import "time"

// AccountStatus gates every flow; only active accounts can log in or
// receive recovery mail.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

type Account struct {
	ID           string
	Email        string // lower-cased
	Username     string
	PasswordHash string // argon2id PHC string
	Role         string
	Permissions  []string // snapshot taken when the account was created
	Status       AccountStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the account may authenticate.
func (a Account) Active() bool { return a.Status == AccountActive }
