package session

import "errors"

// ErrConnectionExists is returned by StartSession when the connection
// already has a live session.
var ErrConnectionExists = errors.New("connection already has an active session")
