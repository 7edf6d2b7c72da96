package storage

import "errors"

// ErrNotFound is returned when a requested row does not exist. Callers
// test for it with errors.Is.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned on a uniqueness or state conflict: a document
// whose (source_id, content_hash) is already stored, a sync run that is
// already active for its job type, or a sync-run transition from an
// unexpected state.
var ErrConflict = errors.New("storage: conflict")
