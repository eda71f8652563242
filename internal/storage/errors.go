package storage

import "errors"

// ErrNotFound is returned when no position matches the given identity
var ErrNotFound = errors.New("position not found")

// ErrTerminalStatus is returned when a caller attempts to write a
// non-terminal status through UpdateStatus
var ErrTerminalStatus = errors.New("status update must be terminal")
