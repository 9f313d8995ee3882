// Package sqlite implements the Event Store over jmoiron/sqlx and
// mattn/go-sqlite3, for local development and tests where a Postgres
// instance is not available.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/missioncontrol/core/internal/common/config"
	"github.com/missioncontrol/core/internal/common/database"
	"github.com/missioncontrol/core/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	assignee TEXT,
	tags TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks(status, updated_at DESC);

CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	author TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	agent TEXT,
	task_id TEXT,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_type_created ON events(type, created_at DESC);

CREATE TABLE IF NOT EXISTS agent_skill_mappings (
	id TEXT PRIMARY KEY,
	agent TEXT NOT NULL,
	skill TEXT NOT NULL
);
`

// Store is the sqlite-backed Event Store.
type Store struct {
	db *database.SqliteDB
}

func init() {
	store.RegisterSqlite(func(ctx context.Context, databaseURL, path string, maxConns, minConns int) (store.Store, error) {
		return New(ctx, config.DatabaseConfig{URL: databaseURL, Path: path, MaxConns: maxConns, MinConns: minConns})
	})
}

// New opens (and migrates) the sqlite database named by cfg.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	db, err := database.NewSqliteDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := db.DB().ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const timeLayout = time.RFC3339Nano

func marshalTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func unmarshalTags(raw string) []string {
	var tags []string
	if raw == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return []string{}
	}
	return tags
}

func (s *Store) InsertTask(ctx context.Context, title string, status store.TaskStatus, assignee *string, tags []string) (store.Task, error) {
	now := time.Now().UTC()
	t := store.Task{
		ID:        uuid.New(),
		Title:     title,
		Status:    status,
		Assignee:  assignee,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.DB().ExecContext(ctx,
		`INSERT INTO tasks (id, title, status, assignee, tags, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID.String(), t.Title, string(t.Status), t.Assignee, marshalTags(t.Tags), t.CreatedAt.Format(timeLayout), t.UpdatedAt.Format(timeLayout),
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
	_, err := s.db.DB().ExecContext(ctx,
		`INSERT INTO comments (id, task_id, author, body, created_at) VALUES (?,?,?,?,?)`,
		c.ID.String(), c.TaskID.String(), c.Author, c.Body, c.CreatedAt.Format(timeLayout),
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
	var taskIDStr *string
	if taskID != nil {
		v := taskID.String()
		taskIDStr = &v
	}
	_, err = s.db.DB().ExecContext(ctx,
		`INSERT INTO events (id, type, agent, task_id, payload, created_at) VALUES (?,?,?,?,?,?)`,
		e.ID.String(), e.Type, e.Agent, taskIDStr, string(payloadJSON), e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return store.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

func (s *Store) GetTaskStatus(ctx context.Context, taskID uuid.UUID) (store.TaskStatus, error) {
	var status string
	err := s.db.DB().GetContext(ctx, &status, `SELECT status FROM tasks WHERE id = ?`, taskID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrTaskNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get task status: %w", err)
	}
	return store.TaskStatus(status), nil
}

func (s *Store) ApplyStatusTransition(ctx context.Context, taskID uuid.UUID, decide func(cur store.TaskStatus) (store.TaskStatus, error)) (store.TaskStatus, store.TaskStatus, error) {
	var previous, next store.TaskStatus
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var cur string
		err := tx.GetContext(ctx, &cur, `SELECT status FROM tasks WHERE id = ?`, taskID.String())
		if errors.Is(err, sql.ErrNoRows) {
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

		_, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			string(next), time.Now().UTC().Format(timeLayout), taskID.String())
		return err
	})
	if err != nil {
		return "", "", err
	}
	return previous, next, nil
}

type taskRow struct {
	ID        string `db:"id"`
	Title     string `db:"title"`
	Status    string `db:"status"`
	Assignee  *string `db:"assignee"`
	Tags      string `db:"tags"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r taskRow) toTask() store.Task {
	id, _ := uuid.Parse(r.ID)
	created, _ := time.Parse(timeLayout, r.CreatedAt)
	updated, _ := time.Parse(timeLayout, r.UpdatedAt)
	return store.Task{
		ID:        id,
		Title:     r.Title,
		Status:    store.TaskStatus(r.Status),
		Assignee:  r.Assignee,
		Tags:      unmarshalTags(r.Tags),
		CreatedAt: created,
		UpdatedAt: updated,
	}
}

func (s *Store) ListBoard(ctx context.Context) (store.Board, error) {
	var board store.Board
	for _, status := range store.BoardColumns {
		var rows []taskRow
		err := s.db.DB().SelectContext(ctx, &rows,
			`SELECT id, title, status, assignee, tags, created_at, updated_at FROM tasks WHERE status = ? ORDER BY updated_at DESC LIMIT 100`,
			string(status))
		if err != nil {
			return store.Board{}, fmt.Errorf("list board column %s: %w", status, err)
		}
		cards := make([]store.Task, 0, len(rows))
		for _, r := range rows {
			cards = append(cards, r.toTask())
		}
		board.Columns = append(board.Columns, store.BoardColumn{
			Title: string(status),
			Count: len(cards),
			Cards: cards,
		})
	}
	return board, nil
}

type eventRow struct {
	ID        string  `db:"id"`
	Type      string  `db:"type"`
	Agent     *string `db:"agent"`
	TaskID    *string `db:"task_id"`
	Payload   string  `db:"payload"`
	CreatedAt string  `db:"created_at"`
}

func (r eventRow) toEvent() store.Event {
	id, _ := uuid.Parse(r.ID)
	created, _ := time.Parse(timeLayout, r.CreatedAt)
	var taskID *uuid.UUID
	if r.TaskID != nil {
		if parsed, err := uuid.Parse(*r.TaskID); err == nil {
			taskID = &parsed
		}
	}
	var payload map[string]any
	_ = json.Unmarshal([]byte(r.Payload), &payload)
	if payload == nil {
		payload = map[string]any{}
	}
	return store.Event{
		ID:        id,
		Type:      r.Type,
		Agent:     r.Agent,
		TaskID:    taskID,
		Payload:   payload,
		CreatedAt: created,
	}
}

func (s *Store) ListFeed(ctx context.Context, limit int) ([]store.Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	var rows []eventRow
	err := s.db.DB().SelectContext(ctx, &rows,
		`SELECT id, type, agent, task_id, payload, created_at FROM events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}
	events := make([]store.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toEvent())
	}
	return events, nil
}

// ListFeedLite projects the hot fields at the SQL level via json_extract
// rather than decoding the full payload in Go, per section 4.1's "cheap
// UI polling" requirement and section 6's note that feed-lite needs JSON
// field extraction capability in the store.
func (s *Store) ListFeedLite(ctx context.Context, limit int) ([]store.EventLite, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var rows []feedLiteRow
	err := s.db.DB().SelectContext(ctx, &rows, `
		SELECT id, type, agent, task_id, created_at,
			json_extract(payload, '$.method') AS method,
			json_extract(payload, '$.path') AS path,
			json_extract(payload, '$.status_code') AS status_code,
			json_extract(payload, '$.error_type') AS error_type,
			json_extract(payload, '$.test_id') AS test_id,
			json_extract(payload, '$.round') AS round
		FROM events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list feed-lite: %w", err)
	}
	lite := make([]store.EventLite, 0, len(rows))
	for _, r := range rows {
		lite = append(lite, r.toEventLite())
	}
	return lite, nil
}

type feedLiteRow struct {
	ID         string  `db:"id"`
	Type       string  `db:"type"`
	Agent      *string `db:"agent"`
	TaskID     *string `db:"task_id"`
	CreatedAt  string  `db:"created_at"`
	Method     *string `db:"method"`
	Path       *string `db:"path"`
	StatusCode *int    `db:"status_code"`
	ErrorType  *string `db:"error_type"`
	TestID     *string `db:"test_id"`
	Round      *int    `db:"round"`
}

func (r feedLiteRow) toEventLite() store.EventLite {
	id, _ := uuid.Parse(r.ID)
	created, _ := time.Parse(timeLayout, r.CreatedAt)
	var taskID *uuid.UUID
	if r.TaskID != nil {
		if parsed, err := uuid.Parse(*r.TaskID); err == nil {
			taskID = &parsed
		}
	}
	return store.EventLite{
		ID:         id,
		Type:       r.Type,
		Agent:      r.Agent,
		TaskID:     taskID,
		CreatedAt:  created,
		Method:     r.Method,
		Path:       r.Path,
		StatusCode: r.StatusCode,
		ErrorType:  r.ErrorType,
		TestID:     r.TestID,
		Round:      r.Round,
	}
}

func (s *Store) KnownAgents(ctx context.Context) (map[string]bool, error) {
	var agents []string
	err := s.db.DB().SelectContext(ctx, &agents, `SELECT DISTINCT agent FROM agent_skill_mappings`)
	if err != nil {
		return nil, fmt.Errorf("list known agents: %w", err)
	}
	known := make(map[string]bool, len(agents))
	for _, a := range agents {
		if strings.TrimSpace(a) != "" {
			known[a] = true
		}
	}
	return known, nil
}

var _ store.Store = (*Store)(nil)
