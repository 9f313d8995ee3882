// Package postgres implements the Event Store over jackc/pgx/v5, the
// primary production backend.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/missioncontrol/core/internal/common/config"
	"github.com/missioncontrol/core/internal/common/database"
	"github.com/missioncontrol/core/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id UUID PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	assignee TEXT,
	tags TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks(status, updated_at DESC);

CREATE TABLE IF NOT EXISTS comments (
	id UUID PRIMARY KEY,
	task_id UUID NOT NULL,
	author TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id UUID PRIMARY KEY,
	type TEXT NOT NULL,
	agent TEXT,
	task_id UUID,
	payload JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_type_created ON events(type, created_at DESC);

CREATE TABLE IF NOT EXISTS agent_skill_mappings (
	id UUID PRIMARY KEY,
	agent TEXT NOT NULL,
	skill TEXT NOT NULL
);
`

// Store is the Postgres-backed Event Store.
type Store struct {
	db *database.PostgresDB
}

func init() {
	store.RegisterPostgres(func(ctx context.Context, databaseURL, path string, maxConns, minConns int) (store.Store, error) {
		return New(ctx, config.DatabaseConfig{URL: databaseURL, Path: path, MaxConns: maxConns, MinConns: minConns})
	})
}

// New connects to Postgres and applies the schema migration.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	db, err := database.NewPostgresDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := db.Pool().Exec(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) InsertTask(ctx context.Context, title string, status store.TaskStatus, assignee *string, tags []string) (store.Task, error) {
	now := time.Now().UTC()
	if tags == nil {
		tags = []string{}
	}
	t := store.Task{
		ID:        uuid.New(),
		Title:     title,
		Status:    status,
		Assignee:  assignee,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Pool().Exec(ctx,
		`INSERT INTO tasks (id, title, status, assignee, tags, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.Title, string(t.Status), t.Assignee, t.Tags, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return store.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *Store) InsertComment(ctx context.Context, taskID uuid.UUID, author, body string) (store.Comment, error) {
	c := store.Comment{
		ID:        uuid.New(),
		TaskID:    taskID,
		Author:    author,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Pool().Exec(ctx,
		`INSERT INTO comments (id, task_id, author, body, created_at) VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.TaskID, c.Author, c.Body, c.CreatedAt,
	)
	if err != nil {
		return store.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

func (s *Store) InsertEvent(ctx context.Context, eventType string, agent *string, taskID *uuid.UUID, payload map[string]any) (store.Event, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return store.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	e := store.Event{
		ID:        uuid.New(),
		Type:      eventType,
		Agent:     agent,
		TaskID:    taskID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.Pool().Exec(ctx,
		`INSERT INTO events (id, type, agent, task_id, payload, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.Type, e.Agent, e.TaskID, payloadJSON, e.CreatedAt,
	)
	if err != nil {
		return store.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

func (s *Store) GetTaskStatus(ctx context.Context, taskID uuid.UUID) (store.TaskStatus, error) {
	var status string
	err := s.db.Pool().QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, taskID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrTaskNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get task status: %w", err)
	}
	return store.TaskStatus(status), nil
}

func (s *Store) ApplyStatusTransition(ctx context.Context, taskID uuid.UUID, decide func(cur store.TaskStatus) (store.TaskStatus, error)) (store.TaskStatus, store.TaskStatus, error) {
	var previous, next store.TaskStatus
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var cur string
		err := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&cur)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		previous = store.TaskStatus(cur)

		next, err = decide(previous)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`,
			string(next), time.Now().UTC(), taskID)
		return err
	})
	if err != nil {
		return "", "", err
	}
	return previous, next, nil
}

func (s *Store) ListBoard(ctx context.Context) (store.Board, error) {
	var board store.Board
	for _, status := range store.BoardColumns {
		rows, err := s.db.Pool().Query(ctx,
			`SELECT id, title, status, assignee, tags, created_at, updated_at FROM tasks WHERE status = $1 ORDER BY updated_at DESC LIMIT 100`,
			string(status))
		if err != nil {
			return store.Board{}, fmt.Errorf("list board column %s: %w", status, err)
		}
		cards, err := scanTasks(rows)
		rows.Close()
		if err != nil {
			return store.Board{}, fmt.Errorf("scan board column %s: %w", status, err)
		}
		board.Columns = append(board.Columns, store.BoardColumn{
			Title: string(status),
			Count: len(cards),
			Cards: cards,
		})
	}
	return board, nil
}

func scanTasks(rows pgx.Rows) ([]store.Task, error) {
	tasks := make([]store.Task, 0)
	for rows.Next() {
		var t store.Task
		var statusStr string
		if err := rows.Scan(&t.ID, &t.Title, &statusStr, &t.Assignee, &t.Tags, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = store.TaskStatus(statusStr)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) ListFeed(ctx context.Context, limit int) ([]store.Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := s.db.Pool().Query(ctx,
		`SELECT id, type, agent, task_id, payload, created_at FROM events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}
	defer rows.Close()

	events := make([]store.Event, 0)
	for rows.Next() {
		var e store.Event
		var payloadJSON []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.Agent, &e.TaskID, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feed row: %w", err)
		}
		var payload map[string]any
		_ = json.Unmarshal(payloadJSON, &payload)
		if payload == nil {
			payload = map[string]any{}
		}
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListFeedLite projects the hot fields at the SQL level via jsonb ->>
// extraction rather than decoding the full payload in Go, per section
// 4.1's "cheap UI polling" requirement and section 6's note that
// feed-lite needs JSON field extraction capability in the store.
func (s *Store) ListFeedLite(ctx context.Context, limit int) ([]store.EventLite, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, type, agent, task_id, created_at,
			payload->>'method', payload->>'path',
			(payload->>'status_code')::int, payload->>'error_type',
			payload->>'test_id', (payload->>'round')::int
		FROM events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list feed-lite: %w", err)
	}
	defer rows.Close()

	lite := make([]store.EventLite, 0)
	for rows.Next() {
		var e store.EventLite
		if err := rows.Scan(&e.ID, &e.Type, &e.Agent, &e.TaskID, &e.CreatedAt,
			&e.Method, &e.Path, &e.StatusCode, &e.ErrorType, &e.TestID, &e.Round); err != nil {
			return nil, fmt.Errorf("scan feed-lite row: %w", err)
		}
		lite = append(lite, e)
	}
	return lite, rows.Err()
}

func (s *Store) KnownAgents(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT DISTINCT agent FROM agent_skill_mappings`)
	if err != nil {
		return nil, fmt.Errorf("list known agents: %w", err)
	}
	defer rows.Close()

	known := map[string]bool{}
	for rows.Next() {
		var agent string
		if err := rows.Scan(&agent); err != nil {
			return nil, err
		}
		if strings.TrimSpace(agent) != "" {
			known[agent] = true
		}
	}
	return known, rows.Err()
}

var _ store.Store = (*Store)(nil)
