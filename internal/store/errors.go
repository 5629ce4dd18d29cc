package store

import "errors"

// ErrNotFound indicates the requested path is absent from the store.
var ErrNotFound = errors.New("store: path not found")

// ErrBadPath indicates a path that the implementation cannot address,
// such as an empty path or one outside the rooms namespace.
var ErrBadPath = errors.New("store: invalid path")
