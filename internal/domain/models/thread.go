package models

import (
	"time"
)

// Thread is a top-level conversation container. Each thread owns one
// checkpoint tree and carries a single active-checkpoint pointer that
// marks the frontier a reconnecting client resumes at.
type Thread struct {
	ID                 string    `json:"id" db:"id"`
	Title              string    `json:"title" db:"title"`
	ActiveCheckpointID *string   `json:"active_checkpoint_id,omitempty" db:"active_checkpoint_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}
