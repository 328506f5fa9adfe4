package profile

import (
	"strings"
	"time"
)

// Profile is the durable record of a user, keyed by the IdP subject.
type Profile struct {
	UserID            string
	Email             string
	DisplayName       string
	GivenName         string
	FamilyName        string
	Username          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ExternalContactID string
}

// Fields is a partial update. Nil fields are left untouched. CreatedAt
// only ever moves the stored value earlier.
type Fields struct {
	Email             *string
	DisplayName       *string
	GivenName         *string
	FamilyName        *string
	Username          *string
	ExternalContactID *string
	CreatedAt         *time.Time
	UpdatedAt         *time.Time
}

// Identity is what a verified ID token says about the user.
type Identity struct {
	UserID     string
	Email      string
	Name       string
	GivenName  string
	FamilyName string
	Username   string
}

// DisplayName picks the name claim, falling back to the local part of
// the email address.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}

	local, _, _ := strings.Cut(i.Email, "@")

	return local
}
