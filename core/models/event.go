package models

import "time"

// JobEvent is one row of a job's append-only status transition log
type JobEvent struct {
	ID         int64      `json:"id"`
	JobID      string     `json:"job_id"`
	FromStatus *JobStatus `json:"from_status,omitempty"`
	ToStatus   JobStatus  `json:"to_status"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
