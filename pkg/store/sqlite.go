// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
)

// SQLiteStore persists records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens dsn with the pure-Go sqlite driver, enables WAL for file
// databases and ensures the schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, invalid("sqlite dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps shared in-memory
	// databases alive.
	db.SetMaxOpenConns(1)
	if !strings.Contains(dsn, "mode=memory") && dsn != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS crews (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			owner_id TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			remote_agent_id TEXT NOT NULL DEFAULT '',
			secret TEXT NOT NULL DEFAULT '',
			capabilities_json TEXT NOT NULL DEFAULT '{}',
			active INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS crew_members (
			crew_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			PRIMARY KEY(crew_id, agent_id)
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			creator_id TEXT NOT NULL DEFAULT '',
			crew_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			completed_at INTEGER,
			result_json TEXT,
			error_text TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_crew ON tasks(crew_id);`,
		`CREATE TABLE IF NOT EXISTS task_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			is_system INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_messages_task ON task_messages(task_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// GetCrew returns the crew or a CREW_NOT_FOUND error.
func (s *SQLiteStore) GetCrew(ctx context.Context, crewID string) (*core.Crew, error) {
	var (
		crew    core.Crew
		active  bool
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, owner_id, active, created_at FROM crews WHERE id = ?`, crewID,
	).Scan(&crew.ID, &crew.Name, &crew.Description, &crew.OwnerID, &active, &created)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.CrewNotFound(crewID)
	}
	if err != nil {
		return nil, err
	}
	crew.Active = active
	crew.CreatedAt = fromUnixNano(created)
	return &crew, nil
}

// GetAgent returns the agent or a NOT_FOUND error.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*core.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, remote_agent_id, secret, capabilities_json, active FROM agents WHERE id = ?`, agentID)
	agent, err := scanAgent(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, agentNotFound(agentID)
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner, extra ...any) (*core.Agent, error) {
	var (
		agent    core.Agent
		capsJSON string
	)
	dest := append([]any{&agent.ID, &agent.Name, &agent.Description, &agent.RemoteAgentID,
		&agent.Secret, &capsJSON, &agent.Active}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if capsJSON != "" {
		if err := json.Unmarshal([]byte(capsJSON), &agent.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities for agent %s: %w", agent.ID, err)
		}
	}
	return &agent, nil
}

// ListMembers implements CrewStore.
func (s *SQLiteStore) ListMembers(ctx context.Context, crewID string) ([]core.Member, error) {
	if _, err := s.GetCrew(ctx, crewID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.description, a.remote_agent_id, a.secret, a.capabilities_json, a.active, m.role
		FROM crew_members m JOIN agents a ON a.id = m.agent_id
		WHERE m.crew_id = ?
		ORDER BY m.rowid ASC
	`, crewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		var role string
		agent, err := scanAgent(rows, &role)
		if err != nil {
			return nil, err
		}
		members = append(members, core.Member{Agent: *agent, Role: role})
	}
	return members, rows.Err()
}

// PutCrew inserts or replaces a crew.
func (s *SQLiteStore) PutCrew(ctx context.Context, crew core.Crew) error {
	if crew.ID == "" {
		return invalid("crew id is required")
	}
	if crew.CreatedAt.IsZero() {
		crew.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crews (id, name, description, owner_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			owner_id = excluded.owner_id,
			active = excluded.active
	`, crew.ID, crew.Name, crew.Description, crew.OwnerID, crew.Active, crew.CreatedAt.UnixNano())
	return err
}

// PutAgent inserts or replaces an agent.
func (s *SQLiteStore) PutAgent(ctx context.Context, agent core.Agent) error {
	if agent.ID == "" {
		return invalid("agent id is required")
	}
	caps := agent.Capabilities
	if caps == nil {
		caps = map[string]any{}
	}
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, description, remote_agent_id, secret, capabilities_json, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			remote_agent_id = excluded.remote_agent_id,
			secret = excluded.secret,
			capabilities_json = excluded.capabilities_json,
			active = excluded.active
	`, agent.ID, agent.Name, agent.Description, agent.RemoteAgentID, agent.Secret, string(capsJSON), agent.Active)
	return err
}

// AddMember adds an agent to a crew, or updates its role when already present.
func (s *SQLiteStore) AddMember(ctx context.Context, m core.Membership) error {
	if _, err := s.GetCrew(ctx, m.CrewID); err != nil {
		return err
	}
	if _, err := s.GetAgent(ctx, m.AgentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crew_members (crew_id, agent_id, role) VALUES (?, ?, ?)
		ON CONFLICT(crew_id, agent_id) DO UPDATE SET role = excluded.role
	`, m.CrewID, m.AgentID, m.Role)
	return err
}

// RemoveMember drops an agent from a crew.
func (s *SQLiteStore) RemoveMember(ctx context.Context, crewID, agentID string) error {
	if _, err := s.GetCrew(ctx, crewID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM crew_members WHERE crew_id = ? AND agent_id = ?`, crewID, agentID)
	return err
}

// CreateTask stores a new task.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *core.Task) error {
	if task == nil || task.ID == "" {
		return invalid("task id is required")
	}
	args, err := taskArgs(task)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (title, description, creator_id, crew_id, status, created_at,
			started_at, completed_at, result_json, error_text, id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return invalid("task " + task.ID + " already exists")
	}
	return err
}

// UpdateTask replaces the stored task.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *core.Task) error {
	if task == nil {
		return invalid("task is nil")
	}
	args, err := taskArgs(task)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, creator_id = ?, crew_id = ?, status = ?,
			created_at = ?, started_at = ?, completed_at = ?, result_json = ?, error_text = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return taskNotFound(task.ID)
	}
	return nil
}

func taskArgs(task *core.Task) ([]any, error) {
	var result sql.NullString
	if task.Result != nil {
		data, err := json.Marshal(task.Result)
		if err != nil {
			return nil, fmt.Errorf("encode task result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}
	return []any{
		task.Title, task.Description, task.CreatorID, task.CrewID, string(task.Status),
		task.CreatedAt.UnixNano(), nullTime(task.StartedAt), nullTime(task.CompletedAt),
		result, task.Error, task.ID,
	}, nil
}

// GetTask loads a task.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*core.Task, error) {
	var (
		task               core.Task
		status             string
		created            int64
		started, completed sql.NullInt64
		result             sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, creator_id, crew_id, status, created_at,
			started_at, completed_at, result_json, error_text
		FROM tasks WHERE id = ?
	`, taskID).Scan(&task.ID, &task.Title, &task.Description, &task.CreatorID, &task.CrewID,
		&status, &created, &started, &completed, &result, &task.Error)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, taskNotFound(taskID)
	}
	if err != nil {
		return nil, err
	}
	task.Status = core.TaskStatus(status)
	task.CreatedAt = fromUnixNano(created)
	task.StartedAt = fromNull(started)
	task.CompletedAt = fromNull(completed)
	if result.Valid {
		var r core.TaskResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("decode task result: %w", err)
		}
		task.Result = &r
	}
	return &task, nil
}

// AppendMessage adds msg to its task's log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg core.TaskMessage) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, msg.TaskID).Scan(&exists)
	if stderrors.Is(err, sql.ErrNoRows) {
		return taskNotFound(msg.TaskID)
	}
	if err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_messages (task_id, agent_id, is_system, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.TaskID, msg.AgentID, msg.IsSystem, msg.Content, msg.Timestamp.UnixNano())
	return err
}

// ListMessages returns the task's log in append order.
func (s *SQLiteStore) ListMessages(ctx context.Context, taskID string) ([]core.TaskMessage, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, agent_id, is_system, content, created_at
		FROM task_messages WHERE task_id = ? ORDER BY id ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []core.TaskMessage
	for rows.Next() {
		var (
			msg core.TaskMessage
			ts  int64
		)
		if err := rows.Scan(&msg.ID, &msg.TaskID, &msg.AgentID, &msg.IsSystem, &msg.Content, &ts); err != nil {
			return nil, err
		}
		msg.Timestamp = fromUnixNano(ts)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnixNano(v.Int64)
	return &t
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
