package storage

import (
	"context"
)

// SessionProvider returns the current session identifier. ok is false when
// no session is active, which is not an error.
type SessionProvider interface {
	CurrentSession(ctx context.Context) (id string, ok bool, err error)
}

// StaticSession is a SessionProvider with a fixed identifier, for
// deployments without a database. An empty ID means no active session.
type StaticSession struct {
	ID string
}

// CurrentSession implements SessionProvider.
func (s StaticSession) CurrentSession(context.Context) (string, bool, error) {
	return s.ID, s.ID != "", nil
}
