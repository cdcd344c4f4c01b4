package port

import "time"

// Attempt is one finished logical extraction (after retries) as persisted by
// the journal. Outcomes: "ok", "degraded", "error".
type Attempt struct {
	ID        int64
	Source    string
	Position  float64
	Profile   string
	Outcome   string
	Error     string
	Attempts  int
	Duration  time.Duration
	CreatedAt time.Time
}

// Journal persists extraction outcomes for operators. Best-effort: callers
// log Record failures and move on.
type Journal interface {
	Record(a Attempt) error
	Recent(limit int) ([]Attempt, error)
	Prune(olderThan time.Duration) error
	Close() error
}
