// Package store archives exported recording sessions in PostgreSQL so they
// survive the CLI process and can be re-exported later.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested against a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// ArchivedSession is one sessions-table row.
type ArchivedSession struct {
	ID           uuid.UUID
	StartedAt    time.Time
	EndedAt      time.Time
	TotalActions int
	ArchivedAt   time.Time
}

// Store provides the PostgreSQL session archive.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// ArchiveSession persists one exported session and its action log in a single
// transaction. It returns the archive ID of the new row.
func (s *Store) ArchiveSession(ctx context.Context, export *schemas.ExportedSession) (uuid.UUID, error) {
	sessionID := uuid.New()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	summary, err := json.Marshal(export.Summary)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal session summary: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (id, started_at, ended_at, total_actions, summary, archived_at)
         VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID,
		export.Session.StartTime.UTC(),
		export.Session.EndTime.UTC(),
		export.Session.TotalActions,
		summary,
		time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert session: %w", err)
	}

	if len(export.Actions) > 0 {
		if err := s.archiveActions(ctx, tx, sessionID, export.Actions); err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Session archived.",
		zap.String("session_id", sessionID.String()),
		zap.Int("actions", len(export.Actions)))
	return sessionID, nil
}

func (s *Store) archiveActions(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, actions []*schemas.RecordedAction) error {
	rows := make([][]interface{}, len(actions))
	for i, a := range actions {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal action %s/%d: %w", a.ContextID, a.Sequence, err)
		}
		rows[i] = []interface{}{
			sessionID,
			a.ContextID,
			a.Sequence,
			string(a.Type),
			a.Timestamp.UTC(),
			a.BeforeAction.URL,
			payload,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"actions"},
		[]string{"session_id", "context_id", "sequence", "action_type", "occurred_at", "page_url", "payload"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy actions: %w", err)
	}
	if int(copyCount) != len(actions) {
		return fmt.Errorf("mismatch in copied actions count: expected %d, got %d", len(actions), copyCount)
	}
	return nil
}

// GetSession reloads one archived session, rebuilding the export artifact
// from the stored action payloads.
func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (*schemas.ExportedSession, error) {
	export := &schemas.ExportedSession{}
	var summaryRaw []byte

	row := s.pool.QueryRow(ctx,
		`SELECT started_at, ended_at, total_actions, summary
         FROM sessions WHERE id = $1`, sessionID)
	err := row.Scan(
		&export.Session.StartTime,
		&export.Session.EndTime,
		&export.Session.TotalActions,
		&summaryRaw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s not found", sessionID)
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	export.Session.DurationMs = export.Session.EndTime.Sub(export.Session.StartTime).Milliseconds()

	if len(summaryRaw) > 0 {
		if err := json.Unmarshal(summaryRaw, &export.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode session summary: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM actions
         WHERE session_id = $1
         ORDER BY occurred_at ASC, sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		var a schemas.RecordedAction
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("failed to decode action payload: %w", err)
		}
		export.Actions = append(export.Actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return export, nil
}

// ListSessions returns the archived sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]ArchivedSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, ended_at, total_actions, archived_at
         FROM sessions
         ORDER BY archived_at DESC
         LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ArchivedSession
	for rows.Next() {
		var as ArchivedSession
		if err := rows.Scan(&as.ID, &as.StartedAt, &as.EndedAt, &as.TotalActions, &as.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, as)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return sessions, nil
}

// EnsureSchema creates the archive tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
            id UUID PRIMARY KEY,
            started_at TIMESTAMPTZ NOT NULL,
            ended_at TIMESTAMPTZ NOT NULL,
            total_actions INT NOT NULL,
            summary JSONB NOT NULL DEFAULT '{}',
            archived_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS actions (
            session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
            context_id TEXT NOT NULL,
            sequence INT NOT NULL,
            action_type TEXT NOT NULL,
            occurred_at TIMESTAMPTZ NOT NULL,
            page_url TEXT NOT NULL,
            payload JSONB NOT NULL,
            PRIMARY KEY (session_id, context_id, sequence)
        )`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure archive schema: %w", err)
		}
	}
	return nil
}
