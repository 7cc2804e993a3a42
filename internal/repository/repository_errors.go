package repository

import "errors"

// ErrNotProcessing is returned when a status transition targets an entry
// that is no longer held in processing (terminal rows are immutable).
var ErrNotProcessing = errors.New("outbox entry not in processing")
