// Package session holds the identity of the signed-in user and the sync
// status shown alongside it.
package session

import (
	"strings"
	"unicode"
)

// Status is the sync state reported to the user.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusSynced     Status = "synced"
	StatusSyncing    Status = "syncing"
	StatusOffline    Status = "offline"
)

// Identity is a resolved user. Email is the remote partition key.
type Identity struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	UserID      string `json:"uid"`

	// LocalOnly sessions never contact the remote store.
	LocalOnly bool `json:"localOnly"`
}

// Key returns the local storage namespace of the identity.
func (i Identity) Key() string {
	return UserKey(i.Email)
}

// Initials returns up to two upper-case letters for an avatar.
func (i Identity) Initials() string {
	name := i.DisplayName
	if name == "" {
		name = i.Email
	}
	if name == "" {
		return "U"
	}
	r := []rune(name)
	if len(r) > 2 {
		r = r[:2]
	}
	return strings.ToUpper(string(r))
}

// Session is the state of the signed-in user.
// The zero value is a signed-out session.
type Session struct {
	Identity Identity `json:"identity"`
	Online   bool     `json:"online"`
	Status   Status   `json:"status"`
}

// Active reports whether a user is signed in.
func (s Session) Active() bool {
	return s.Identity.Email != ""
}

// SignedOut returns the session state after logout.
func SignedOut() Session {
	return Session{Status: StatusOffline}
}

// UserKey derives a storage-safe key from an email by replacing every
// rune that is not a letter or digit with an underscore.
func UserKey(email string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, email)
}
