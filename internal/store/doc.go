// Package store holds what run-history backends share. Implementations live
// in subpackages; this package must not import database drivers.
package store

import "errors"

// ErrRunNotFound signals that the requested run does not exist.
var ErrRunNotFound = errors.New("run not found")

// DefaultListLimit caps ListRuns when the caller passes a non-positive limit.
const DefaultListLimit = 50
