package ids

import (
	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier for rows owned by the
// service (users, roles, grants, documents).
func New() string {
	return ulid.Make().String()
}

// Valid reports whether s is a well-formed identifier produced by New.
// Handlers use it to reject malformed path parameters before touching storage.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
