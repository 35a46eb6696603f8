package resource

import (
	"strings"

	"github.com/google/uuid"
)

// Resource mirrors one person of the external directory, keyed by the directory identifier
// (account name or email address).
type Resource struct {
	Id         int
	Uid        uuid.UUID
	Identifier string
	Username   string
	Email      string
}

// NewFromIdentifier builds an unsaved resource: an email identifier yields its local part as the
// username and is kept as the email, any other identifier is used as the username.
func NewFromIdentifier(identifier string) Resource {
	identifier = NormalizeIdentifier(identifier)
	r := Resource{
		Uid:        uuid.New(),
		Identifier: identifier,
		Username:   identifier,
	}
	if at := strings.Index(identifier, "@"); at > 0 {
		r.Username = identifier[:at]
		r.Email = identifier
	}
	return r
}

func NormalizeIdentifier(identifier string) string {
	return strings.TrimSpace(identifier)
}
