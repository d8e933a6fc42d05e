package session

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidCredentials is returned when no account matches the email and password.
var ErrInvalidCredentials = errors.New("session: invalid email or password")

// Account is one entry of the credential table.
type Account struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// DefaultAccounts returns the demo accounts available when none are configured.
func DefaultAccounts() []Account {
	return []Account{
		{Email: "admin@smartfinance.com", Password: "admin123", Name: "Admin"},
		{Email: "user@smartfinance.com", Password: "user123", Name: "User"},
		{Email: "demo@smartfinance.com", Password: "demo123", Name: "Demo"},
	}
}

// Directory is a fixed credential table.
type Directory struct {
	accounts map[string]Account
}

// NewDirectory indexes accounts by lower-cased email.
func NewDirectory(accounts []Account) *Directory {
	d := &Directory{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		d.accounts[strings.ToLower(a.Email)] = a
	}
	return d
}

// Len returns the number of accounts.
func (d *Directory) Len() int {
	return len(d.accounts)
}

// Authenticate resolves an identity. Emails match case-insensitively.
// Each successful call gets a fresh UserID.
func (d *Directory) Authenticate(email, password string) (Identity, error) {
	a, ok := d.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(a.Password), []byte(password)) != 1 {
		return Identity{}, ErrInvalidCredentials
	}

	return Identity{
		Email:       a.Email,
		DisplayName: a.Name,
		UserID:      uuid.NewString(),
	}, nil
}
