package store

import "time"

// ConversationStatus mirrors SPEC_FULL.md §3 Conversation.status.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

// Conversation is the persisted Conversation entity (SPEC_FULL.md §3).
type Conversation struct {
	ID           string
	Title        string
	Status       ConversationStatus
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MessageRole mirrors SPEC_FULL.md §3 Message.role.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageMeta is the Message.meta bag (SPEC_FULL.md §3: "queryId, modelUsed,
// confidence, token counts").
type MessageMeta struct {
	QueryID    string  `json:"queryId,omitempty"`
	ModelUsed  string  `json:"modelUsed,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	TokensIn   int     `json:"tokensIn,omitempty"`
	TokensOut  int     `json:"tokensOut,omitempty"`
}

// Message is the persisted, append-only Message entity.
type Message struct {
	ID             string
	ConversationID string
	Role           MessageRole
	Content        string
	Meta           MessageMeta
	CreatedAt      time.Time
}

// AnalysisRecordCurrent is the current top-level shape of a persisted
// analysis payload (SPEC_FULL.md §6 persisted state layout: {intent,
// domains, complexity, plan_summary, confidence}).
type AnalysisRecordCurrent struct {
	Intent      string   `json:"intent"`
	Domains     []string `json:"domains"`
	Complexity  int      `json:"complexity"`
	PlanSummary string   `json:"plan_summary"`
	Confidence  float64  `json:"confidence"`
}

// AnalysisRecordV1 is the prior persisted shape, kept only so GetAnalysis can
// dual-read it (SPEC_FULL.md §4.H migration policy). It predates the
// plan_summary field and used a nested confidence object.
type AnalysisRecordV1 struct {
	Intent     string   `json:"intent"`
	Domains    []string `json:"domains"`
	Complexity int      `json:"complexity"`
	Confidence struct {
		Calibrated float64 `json:"calibrated"`
	} `json:"confidence"`
}

// Analysis bundles the decoded current-shape record with its storage
// metadata, returned by GetAnalysis regardless of which shape was stored.
type Analysis struct {
	QueryID   string
	Record    AnalysisRecordCurrent
	CreatedAt time.Time
}

// Feedback is the append-only Feedback entity.
type Feedback struct {
	ID        string
	MessageID string
	Rating    int // -1, 0, 1
	Comment   string
	CreatedAt time.Time
}

// MetricsRange bounds a Metrics query.
type MetricsRange struct {
	Since time.Time
	Until time.Time
}

// MetricsFilter narrows a Metrics query to one agent; empty means all agents.
type MetricsFilter struct {
	Agent string
}

// DailyMetrics is one row of the metrics_daily read contract.
type DailyMetrics struct {
	Day        time.Time
	Agent      string
	QueryCount int
	TokensIn   int64
	TokensOut  int64
	ToolCalls  int
	TotalMs    int64
}
