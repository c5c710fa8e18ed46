package storage

import "errors"

// ErrNotFound is returned by stores when an id does not resolve. Services
// translate it into the API error taxonomy.
var ErrNotFound = errors.New("not found")
