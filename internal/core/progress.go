package core

// Job statuses for long-running ingestion jobs.
const (
	JobRunning   = "running"
	JobDone      = "done"
	JobCancelled = "cancelled"
	JobFailed    = "failed"
)

// TerminalStatus reports whether a job status ends the stream.
func TerminalStatus(s string) bool {
	return s == JobDone || s == JobCancelled || s == JobFailed
}

// ProgressEvent is one sequence-numbered update on a job's stream. Seq is
// strictly increasing per (user, job) with no gaps.
type ProgressEvent struct {
	Seq       int64  `json:"seq"`
	Status    string `json:"status"` // running|done|cancelled|failed
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Created   int    `json:"created,omitempty"`
	Updated   int    `json:"updated,omitempty"`
	LastURL   string `json:"last_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// JobProgress is the ephemeral cache-only job record.
type JobProgress struct {
	UserID  int64  `json:"user_id"`
	JobKind string `json:"job_kind"`
	JobID   string `json:"job_id"`
	LastSeq int64  `json:"last_seq"`
	Status  string `json:"status"`
}
