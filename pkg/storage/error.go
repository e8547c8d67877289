package storage

import "errors"

// ErrNilSummary is returned when appending a nil summary.
var ErrNilSummary = errors.New("cannot store nil summary")

// NotFoundError is returned when a record doesn't exist in the store.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	resource := e.Resource
	if resource == "" {
		resource = "record"
	}
	if e.ID == "" {
		return resource + " not found"
	}

	return resource + " not found: " + e.ID
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}
