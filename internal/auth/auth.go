// Package auth decides who may open a document and what they may do with it.
package auth

import (
	"context"
	"errors"
)

var (
	// ErrAccessDenied means the user may not perform the requested action
	// on the document. Sessions receiving it are terminated.
	ErrAccessDenied = errors.New("access denied")

	// ErrBadCredentials means the username/password pair did not match.
	ErrBadCredentials = errors.New("bad credentials")
)

// Access describes what a user may do with a document.
type Access struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

// Authorizer answers document access questions. It is consulted on every
// attach and before every operation submit.
type Authorizer interface {
	CanAccess(ctx context.Context, userID, docID string) (Access, error)
}

// User is an account record from the user directory.
type User struct {
	ID       string `json:"id" mapstructure:"id"`
	Username string `json:"username" mapstructure:"username"`
	Name     string `json:"name" mapstructure:"name"`
	Password string `json:"-" mapstructure:"password"`
}

// Directory authenticates users by credentials.
type Directory interface {
	Authenticate(ctx context.Context, username, password string) (User, error)
}

// AllowAll grants every user full access to every document. Deployments
// without per-document ACLs run under this policy.
type AllowAll struct{}

func (AllowAll) CanAccess(context.Context, string, string) (Access, error) {
	return Access{Read: true, Write: true}, nil
}

// StaticDirectory authenticates against a fixed user list, keyed by
// username. It backs the in-memory store where no external user database
// exists.
type StaticDirectory map[string]User

func (d StaticDirectory) Authenticate(_ context.Context, username, password string) (User, error) {
	u, ok := d[username]
	if !ok || u.Password != password {
		return User{}, ErrBadCredentials
	}
	return u, nil
}

// parseRights maps an ACL hash (user id, or "*" for everyone, to a grant
// of "rw" or "ro") to the access it gives userID. A document without an
// ACL is open to all authenticated users.
func parseRights(rights map[string]string, userID string) Access {
	if len(rights) == 0 {
		return Access{Read: true, Write: true}
	}
	grant, ok := rights[userID]
	if !ok {
		grant, ok = rights["*"]
	}
	if !ok {
		return Access{}
	}
	switch grant {
	case "rw":
		return Access{Read: true, Write: true}
	case "ro":
		return Access{Read: true}
	default:
		return Access{}
	}
}
