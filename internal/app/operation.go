package app

import "time"

// Operation tracks one CLI invocation. Its ID tags every log line and is
// stored in the payload of every event the invocation records.
type Operation struct {
	ID        string
	Command   string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation creates an operation that has not failed yet.
func NewOperation(id, command string, startedAt time.Time) *Operation {
	return &Operation{
		ID:        id,
		Command:   command,
		StartedAt: startedAt,
		Status:    "success",
	}
}

// Track marks the operation failed when err is non-nil and returns err.
func (op *Operation) Track(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
