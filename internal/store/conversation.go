package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tarsy-labs/agentrun/internal/runerr"
)

var ErrNotFound = errors.New("not found")

// GetConversation implements the §4.H read contract.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, status, message_count, created_at, updated_at FROM conversations WHERE id = $1`, id)

	var c Conversation
	var status string
	if err := row.Scan(&c.ID, &c.Title, &status, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, runerr.Internal("query conversation", err)
	}
	c.Status = ConversationStatus(status)
	return c, nil
}

// ArchiveConversation explicitly transitions a conversation to archived
// (SPEC_FULL.md §3: "archived explicitly").
func (s *Store) ArchiveConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = 'archived', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return runerr.Internal("archive conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages implements the §4.H read contract: messages for a
// conversation, optionally since a timestamp, ordered by creation.
func (s *Store) ListMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, meta, created_at
		 FROM messages
		 WHERE conversation_id = $1 AND created_at >= $2
		 ORDER BY created_at ASC
		 LIMIT $3`, conversationID, since, limit)
	if err != nil {
		return nil, runerr.Internal("list messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		var metaRaw []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &metaRaw, &m.CreatedAt); err != nil {
			return nil, runerr.Internal("scan message", err)
		}
		m.Role = MessageRole(role)
		if len(metaRaw) > 0 {
			_ = json.Unmarshal(metaRaw, &m.Meta) // a malformed meta blob degrades to zero-value, never fails the read
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendMessage implements the §4.H write contract: atomically inserts the
// message and bumps the conversation's updatedAt and messageCount,
// creating the conversation first if it does not yet exist (SPEC_FULL.md
// §3: "created on first message").
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg Message) error {
	if msg.Role == RoleAssistant && conversationID == "" {
		return runerr.InvalidInput("conversationId is required", nil)
	}

	metaRaw, err := json.Marshal(msg.Meta)
	if err != nil {
		return runerr.Internal("marshal message meta", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return runerr.Internal("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, status, message_count, created_at, updated_at)
		 VALUES ($1, '', 'active', 0, now(), now())
		 ON CONFLICT (id) DO NOTHING`, conversationID)
	if err != nil {
		return runerr.Internal("ensure conversation", err)
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, meta, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, conversationID, string(msg.Role), msg.Content, metaRaw, createdAt)
	if err != nil {
		return runerr.Internal("insert message", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET message_count = message_count + 1, updated_at = now() WHERE id = $1`,
		conversationID)
	if err != nil {
		return runerr.Internal("bump message count", err)
	}

	if err := tx.Commit(); err != nil {
		return runerr.Internal("commit append message", err)
	}
	return nil
}

// RecordAnalysis implements the §4.H write contract. It is idempotent on
// queryId: a second call with the same payload is a no-op (SPEC_FULL.md §8
// round-trip property), enforced here via an upsert that only overwrites
// when the payload actually differs.
func (s *Store) RecordAnalysis(ctx context.Context, queryID string, rec AnalysisRecordCurrent) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return runerr.Internal("marshal analysis", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (query_id, payload, shape, created_at)
		 VALUES ($1, $2, 2, now())
		 ON CONFLICT (query_id) DO UPDATE
		   SET payload = EXCLUDED.payload
		   WHERE analyses.payload IS DISTINCT FROM EXCLUDED.payload`,
		queryID, payload)
	if err != nil {
		return runerr.Internal("record analysis", err)
	}
	return nil
}

// GetAnalysis implements the §4.H read contract with dual-read support: it
// decodes whichever shape (current or prior) was stored, normalizing both
// into AnalysisRecordCurrent.
func (s *Store) GetAnalysis(ctx context.Context, queryID string) (Analysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, shape, created_at FROM analyses WHERE query_id = $1`, queryID)

	var payload []byte
	var shape int
	var createdAt time.Time
	if err := row.Scan(&payload, &shape, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, runerr.Internal("query analysis", err)
	}

	rec, err := decodeAnalysisPayload(payload, shape)
	if err != nil {
		return Analysis{}, runerr.Internal("decode analysis payload", err)
	}
	return Analysis{QueryID: queryID, Record: rec, CreatedAt: createdAt}, nil
}

func decodeAnalysisPayload(payload []byte, shape int) (AnalysisRecordCurrent, error) {
	if shape >= 2 {
		var cur AnalysisRecordCurrent
		if err := json.Unmarshal(payload, &cur); err != nil {
			return AnalysisRecordCurrent{}, err
		}
		return cur, nil
	}
	var v1 AnalysisRecordV1
	if err := json.Unmarshal(payload, &v1); err != nil {
		return AnalysisRecordCurrent{}, err
	}
	return AnalysisRecordCurrent{
		Intent:     v1.Intent,
		Domains:    v1.Domains,
		Complexity: v1.Complexity,
		Confidence: v1.Confidence.Calibrated,
	}, nil
}

// RecordFeedback implements the §4.H write contract: append-only.
func (s *Store) RecordFeedback(ctx context.Context, fb Feedback) error {
	if fb.Rating < -1 || fb.Rating > 1 {
		return runerr.InvalidInput(fmt.Sprintf("rating must be in [-1,1], got %d", fb.Rating), nil)
	}
	createdAt := fb.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, message_id, rating, comment, created_at) VALUES ($1, $2, $3, $4, $5)`,
		fb.ID, fb.MessageID, fb.Rating, fb.Comment, createdAt)
	if err != nil {
		return runerr.Internal("record feedback", err)
	}
	return nil
}

// GetFeedbackForMessage implements the §4.H read contract.
func (s *Store) GetFeedbackForMessage(ctx context.Context, messageID string) ([]Feedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, rating, comment, created_at FROM feedback WHERE message_id = $1 ORDER BY created_at ASC`,
		messageID)
	if err != nil {
		return nil, runerr.Internal("list feedback", err)
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var f Feedback
		if err := rows.Scan(&f.ID, &f.MessageID, &f.Rating, &f.Comment, &f.CreatedAt); err != nil {
			return nil, runerr.Internal("scan feedback", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Metrics implements the §4.H read contract over metrics_daily.
func (s *Store) Metrics(ctx context.Context, rng MetricsRange, filter MetricsFilter) ([]DailyMetrics, error) {
	query := `SELECT day, agent, query_count, tokens_in, tokens_out, tool_calls, total_ms
	          FROM metrics_daily WHERE day >= $1 AND day <= $2`
	args := []any{rng.Since, rng.Until}
	if filter.Agent != "" {
		query += " AND agent = $3"
		args = append(args, filter.Agent)
	}
	query += " ORDER BY day ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, runerr.Internal("query metrics", err)
	}
	defer rows.Close()

	var out []DailyMetrics
	for rows.Next() {
		var m DailyMetrics
		if err := rows.Scan(&m.Day, &m.Agent, &m.QueryCount, &m.TokensIn, &m.TokensOut, &m.ToolCalls, &m.TotalMs); err != nil {
			return nil, runerr.Internal("scan metrics", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordStepMetrics upserts one day's aggregate counters for an agent,
// called by the Orchestrator after each query completes.
func (s *Store) RecordStepMetrics(ctx context.Context, day time.Time, agent string, tokensIn, tokensOut int64, toolCalls int, totalMs int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics_daily (day, agent, query_count, tokens_in, tokens_out, tool_calls, total_ms)
		 VALUES ($1, $2, 1, $3, $4, $5, $6)
		 ON CONFLICT (day, agent) DO UPDATE SET
		   query_count = metrics_daily.query_count + 1,
		   tokens_in = metrics_daily.tokens_in + EXCLUDED.tokens_in,
		   tokens_out = metrics_daily.tokens_out + EXCLUDED.tokens_out,
		   tool_calls = metrics_daily.tool_calls + EXCLUDED.tool_calls,
		   total_ms = metrics_daily.total_ms + EXCLUDED.total_ms`,
		day.Truncate(24*time.Hour), agent, tokensIn, tokensOut, toolCalls, totalMs)
	if err != nil {
		return runerr.Internal("record step metrics", err)
	}
	return nil
}
