package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Submission is one archived interview outcome. Reason records which terminal
// path completed the session: "submitted", "user", "timeout", or "stale".
type Submission struct {
	ID          string
	Title       string
	Cwd         string
	GitBranch   string
	Reason      string
	AnswersJSON string // JSON array stored as text; empty for cancellations
	Transcript  string
	CompletedAt time.Time
}
