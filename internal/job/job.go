// Package job implements durable persistence of analysis jobs: typed
// status transitions, owner-scoped queries, and TTL-bounded retention
// (spec.md §3, §4.3).
package job

import (
	"time"

	"github.com/google/uuid"
)

// Status is one of the job lifecycle states (spec.md §3). Statuses form a
// DAG, not a linear sequence: pending → running → {completed|failed};
// pending|running → cancelled at any point; any terminal → expired, but
// only via the reaper.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether a status is one the dispatcher or reaper has
// finished acting on; reached statuses never transition except expired,
// which only the reaper assigns.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// PatternType is a recognized analysis dimension (spec.md §3 options).
type PatternType string

const (
	PatternDialectic PatternType = "dialectic"
	PatternThemes    PatternType = "themes"
	PatternSentiment PatternType = "sentiment"
)

// Priority is the submission priority (spec.md §3 options, §9 open question
// #1: "high" is restricted to partner tier and coerced otherwise).
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Options are the recognized, closed-schema submission options (spec.md §3,
// §9 "dynamic option maps → enumerated config struct").
type Options struct {
	PatternTypes []PatternType `json:"pattern_types"`
	CallbackURL  string        `json:"callback_url,omitempty"`
	Priority     Priority      `json:"priority"`
}

// Pattern is a single detected dialectic/thematic pattern.
type Pattern struct {
	Kind       string  `json:"kind"`
	Span       [2]int  `json:"span"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
	Coerced    bool    `json:"coerced,omitempty"`
}

// Sentiment is the overall sentiment reading of a conversation.
type Sentiment struct {
	Polarity  float64 `json:"polarity"`
	Intensity float64 `json:"intensity"`
	Coerced   bool    `json:"coerced,omitempty"`
}

// Result is the structured analysis output (spec.md §3).
type Result struct {
	Patterns         []Pattern `json:"patterns"`
	Themes           []string  `json:"themes"`
	Sentiment        Sentiment `json:"sentiment"`
	ProcessingSeconds float64  `json:"processing_seconds"`
	ModelIdentifier  string    `json:"model_identifier"`
}

// ErrorKind mirrors apierr.Kind values that can land on a job (spec.md §7):
// timeout, parse_error, backend_unavailable, internal.
type ErrorKind string

// JobError is the job-resident error recorded on status=failed.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is the central entity (spec.md §3).
type Job struct {
	ID               uuid.UUID
	OwnerFingerprint string
	OwnerTier        string // credential.Tier value, stored as a plain string to avoid a package dependency
	Status           Status
	ConversationText string
	Options          Options
	Result           *Result
	Error            *JobError
	CreatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
	ExpiresAt        time.Time
	CancelRequested  bool
}
