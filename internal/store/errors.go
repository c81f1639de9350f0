package store

import "errors"

// ErrQueueEmpty is the normal outcome of calling next with nobody waiting.
var ErrQueueEmpty = errors.New("no client waiting")
