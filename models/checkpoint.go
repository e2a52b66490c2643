package models

// Checkpoint records the progress of one distributed run, persisted so an
// operator can tell how far a restarted batch had gotten.
type Checkpoint struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Computed  int    `json:"computed"`
	Total     int    `json:"total"`
	Timestamp int64  `json:"timestamp"`
}
