// Package model defines the persisted data shapes shared across the memory
// engine: session records, transcripts, the master context, archive
// documents, and the advisory (nudge/anomaly) records. These are the Go
// counterparts of the data model in SPEC_FULL.md §5.
package model

import "time"

// Significance is the coarse importance level attached to a session.
type Significance string

const (
	SignificanceLow    Significance = "low"
	SignificanceMedium Significance = "medium"
	SignificanceHigh   Significance = "high"
)

// ProcessedInfo is appended to a SessionRecord once the worker pipeline has
// finished with it (spec.md §4.8 step 13).
type ProcessedInfo struct {
	Timestamp        time.Time `json:"timestamp"`
	Summary          string    `json:"summary"`
	TriageItemCount  int       `json:"triage_item_count"`
	MasterUpdateCount int      `json:"master_update_count"`
}

// SessionRecord is the durable, source-of-truth representation of one saved
// session (spec.md §3 "Session record").
type SessionRecord struct {
	SessionID     string            `json:"session_id"`
	CreatedAt     time.Time         `json:"created_at"`
	Summary       string            `json:"summary"`
	Significance  Significance      `json:"significance"`
	Decisions     []string          `json:"decisions"`
	Failures      []string          `json:"failures"`
	FilesChanged  []string          `json:"files_changed"`
	NextSteps     []string          `json:"next_steps"`
	Tags          []string          `json:"tags"`
	ProjectState  map[string]string `json:"project_state"`
	Source        string            `json:"source"`
	Processed     bool              `json:"processed"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
	ProcessedInfo *ProcessedInfo    `json:"_processed,omitempty"`
}

// Transcript is a raw conversation transcript keyed by session id. Content is
// held compressed on disk; this struct is the in-memory view returned to
// callers after decompression.
type Transcript struct {
	SessionID     string
	Text          string
	StoredAt      time.Time
	Chars         int
}

// MasterContext is the single bounded markdown document describing current
// state (spec.md §3 "Master context").
type MasterContext struct {
	Markdown  string    `json:"markdown"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"` // external, local, cache, placeholder
}

// ArchiveDocument is one row of one of the eight named collections
// (spec.md §3 "Archive collections").
type ArchiveDocument struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// SearchHit is a nearest-neighbor result from the vector archive.
type SearchHit struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}

// Relevance converts a distance into the [0,1] relevance score used by
// ingest-surface callers (spec.md §4.3).
func (h SearchHit) Relevance() float64 {
	score := 1 - h.Distance/2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// NudgeType enumerates the proactive-advisory categories.
type NudgeType string

const (
	NudgeFollowup     NudgeType = "followup"
	NudgeContradiction NudgeType = "contradiction"
	NudgeStale        NudgeType = "stale"
	NudgeRisk         NudgeType = "risk"
	NudgeOpportunity  NudgeType = "opportunity"
	NudgeReminder     NudgeType = "reminder"
)

// Priority is the nudge priority scale; anomalies use the separate Severity
// scale.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Nudge is a proactive advisory shown on load (spec.md §3 "Nudges and anomalies").
type Nudge struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Type      NudgeType `json:"type"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Dismissed bool      `json:"dismissed"`
	// ExpiresAfterDays overrides the store's default TTL when positive
	// (spec.md §4.6's per-item expires_after_days).
	ExpiresAfterDays int `json:"expires_after_days,omitempty"`
}

// AnomalyType enumerates detected-inconsistency categories.
type AnomalyType string

const (
	AnomalyContradiction AnomalyType = "contradiction"
	AnomalyRegression    AnomalyType = "regression"
	AnomalyDrift         AnomalyType = "drift"
	AnomalyInconsistency AnomalyType = "inconsistency"
	AnomalyEscalation    AnomalyType = "escalation"
)

// Severity is the anomaly-specific counterpart of Priority, adding "critical".
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly is a flagged inconsistency between a session and established
// context (spec.md §3 "Nudges and anomalies").
type Anomaly struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Type        AnomalyType `json:"type"`
	Severity    Severity    `json:"severity"`
	Evidence    string      `json:"evidence"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Dismissed   bool        `json:"dismissed"`
	// ExpiresAfterDays overrides the store's default TTL when positive
	// (spec.md §4.6's per-item expires_after_days).
	ExpiresAfterDays int `json:"expires_after_days,omitempty"`
}

// PromotionTopic is a transient analytic object produced while computing
// load-time nudges; it is never persisted between pipeline runs.
type PromotionTopic struct {
	Topic       string
	Appearances int
}
