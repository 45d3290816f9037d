package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies which handler executes a job. The set is closed.
type Type string

const (
	TypeOCR       Type = "ocr"
	TypeTranslate Type = "translate"
	TypeRender    Type = "render"
)

// Types lists every recognized job type.
var Types = []Type{TypeOCR, TypeTranslate, TypeRender}

// Valid reports whether t is one of the recognized job types.
func (t Type) Valid() bool {
	switch t {
	case TypeOCR, TypeTranslate, TypeRender:
		return true
	}
	return false
}

// ParseType converts a stored job type into a Type, rejecting unknown values.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

func (s State) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateDone, StateFailed:
		return true
	}
	return false
}

// IsTerminal returns true for states a job never leaves on its own.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Job is one durable unit of pipeline work.
//
// Type holds the raw stored value, which may be unrecognized. The dispatcher
// records an unrecognized type as a handler failure and keeps the job.
type Job struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Type        Type            `json:"job_type"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	State       State           `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	AvailableAt time.Time       `json:"available_at"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// Metadata is the type-specific payload shared by the page-scoped job types.
type Metadata struct {
	PageID string `json:"page_id,omitempty"`
}

// DecodeMetadata unmarshals the job payload. An empty payload decodes to a zero Metadata.
func (j *Job) DecodeMetadata() (Metadata, error) {
	var m Metadata
	if len(j.Metadata) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(j.Metadata, &m); err != nil {
		return m, fmt.Errorf("decode metadata for job %s: %w", j.ID, err)
	}
	return m, nil
}

// Outcome is what a handler invocation produced for a claimed job.
// A nil Err means success. RetryAt is the earliest time a retryable failure
// may be claimed again; zero means immediately.
type Outcome struct {
	Err     error
	RetryAt time.Time
}

// Message returns the text recorded as lastError for a failed outcome.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	if msg := o.Err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}

// ListFilter narrows Store.List. Zero values mean no constraint.
type ListFilter struct {
	State     State
	ProjectID string
	Limit     int
	Offset    int
}
