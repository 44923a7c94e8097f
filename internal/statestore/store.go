package statestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the embedded, schema-versioned relational store. Writers serialize
// through database/sql's own connection pool and the single-writer semantics
// SQLite enforces at the file level; readers run concurrently.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertEpic inserts or updates an epic.
func (s *Store) UpsertEpic(e Epic) error {
	_, err := s.db.Exec(`
		INSERT INTO epics (epic_num, title, feature, status, total_points, completed_points)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(epic_num) DO UPDATE SET
			title = excluded.title, feature = excluded.feature, status = excluded.status,
			total_points = excluded.total_points, completed_points = excluded.completed_points
	`, e.EpicNum, e.Title, e.Feature, e.Status, e.TotalPoints, e.CompletedPoints)
	if err != nil {
		return fmt.Errorf("upsert epic: %w", err)
	}
	return nil
}

// FeatureNames returns the distinct feature names across all known epics,
// satisfying featurepath.FeatureStore.
func (s *Store) FeatureNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT feature FROM epics ORDER BY feature`)
	if err != nil {
		return nil, fmt.Errorf("query feature names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan feature name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpsertStory inserts or updates a story.
func (s *Store) UpsertStory(st Story) error {
	_, err := s.db.Exec(`
		INSERT INTO stories (epic_num, story_num, title, status, owner, points, priority, rework_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(epic_num, story_num) DO UPDATE SET
			title = excluded.title, status = excluded.status, owner = excluded.owner,
			points = excluded.points, priority = excluded.priority, rework_count = excluded.rework_count
	`, st.EpicNum, st.StoryNum, st.Title, st.Status, st.Owner, st.Points, st.Priority, st.ReworkCount)
	if err != nil {
		return fmt.Errorf("upsert story: %w", err)
	}
	return nil
}

// StoriesForEpic returns every story belonging to epicNum.
func (s *Store) StoriesForEpic(epicNum int) ([]Story, error) {
	rows, err := s.db.Query(`
		SELECT epic_num, story_num, title, status, owner, points, priority, rework_count
		FROM stories WHERE epic_num = ? ORDER BY story_num
	`, epicNum)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	var stories []Story
	for rows.Next() {
		var st Story
		if err := rows.Scan(&st.EpicNum, &st.StoryNum, &st.Title, &st.Status, &st.Owner, &st.Points, &st.Priority, &st.ReworkCount); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		stories = append(stories, st)
	}
	return stories, rows.Err()
}

// workflowRunOutput is the JSON shape persisted in workflow_runs.output.
type workflowRunOutput struct {
	Steps     []StepResult      `json:"steps"`
	Variables map[string]string `json:"variables"`
	Artifacts []string          `json:"artifacts"`
	Errors    []string          `json:"errors"`
}

// SaveWorkflowRun inserts or updates a workflow run record.
func (s *Store) SaveWorkflowRun(r WorkflowRun) error {
	output, err := json.Marshal(workflowRunOutput{
		Steps:     r.Steps,
		Variables: r.Variables,
		Artifacts: r.Artifacts,
		Errors:    r.Errors,
	})
	if err != nil {
		return fmt.Errorf("marshal workflow run output: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO workflow_runs (workflow_id, workflow_name, epic_num, story_num, status, started_at, completed_at, output, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			status = excluded.status, completed_at = excluded.completed_at,
			output = excluded.output, error_message = excluded.error_message
	`, r.WorkflowID, r.WorkflowName, r.EpicNum, r.StoryNum, r.Status, r.StartedAt, r.CompletedAt, string(output), r.ErrorMessage)
	if err != nil {
		return fmt.Errorf("save workflow run: %w", err)
	}
	return nil
}

// RegisterArtifact records an artifact discovered after a workflow step.
// Registration failures are the caller's to treat as warnings, not fatal
// errors (per the artifact manager's contract); this method simply reports
// what happened.
func (s *Store) RegisterArtifact(path, workflowName string, epicNum, storyNum *int, agent string, phase int, artifactType string) error {
	_, err := s.db.Exec(`
		INSERT INTO artifacts (path, workflow_name, epic_num, story_num, agent, phase, artifact_type, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, path, workflowName, epicNum, storyNum, agent, phase, artifactType, time.Now())
	if err != nil {
		return fmt.Errorf("register artifact: %w", err)
	}
	return nil
}

// RecordCeremonyExecution appends a row to the ceremony safety-tracking
// table so the trigger engine can tell whether a ceremony already fired for
// (type, epicNum).
func (s *Store) RecordCeremonyExecution(ceremonyType CeremonyType, epicNum int, success bool) error {
	successInt := 0
	if success {
		successInt = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO ceremony_executions (ceremony_type, epic_num, success, executed_at) VALUES (?, ?, ?, ?)
	`, ceremonyType, epicNum, successInt, time.Now())
	if err != nil {
		return fmt.Errorf("record ceremony execution: %w", err)
	}
	return nil
}

// HasCeremonyExecuted reports whether (type, epicNum) has ever been recorded
// as executed (successfully or not).
func (s *Store) HasCeremonyExecuted(ceremonyType CeremonyType, epicNum int) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM ceremony_executions WHERE ceremony_type = ? AND epic_num = ?
	`, ceremonyType, epicNum).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check ceremony execution: %w", err)
	}
	return count > 0, nil
}

// RecordCeremony inserts a ceremony row plus its action items and learnings
// in a single transaction. Callers (the ceremony orchestrator) are
// responsible for pairing this with the transcript file write and rolling
// both back together on failure.
func (s *Store) RecordCeremony(c Ceremony) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin ceremony transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	participants, _ := json.Marshal(c.Participants)
	_, err = tx.Exec(`
		INSERT INTO ceremonies (id, type, epic_num, story_num, transcript_path, participants, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Type, c.EpicNum, c.StoryNum, c.TranscriptPath, string(participants), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ceremony: %w", err)
	}

	for i, item := range c.ActionItems {
		if _, err = tx.Exec(`INSERT INTO ceremony_action_items (ceremony_id, seq, content) VALUES (?, ?, ?)`, c.ID, i, item); err != nil {
			return fmt.Errorf("insert action item: %w", err)
		}
	}
	for i, learning := range c.Learnings {
		if _, err = tx.Exec(`INSERT INTO ceremony_learnings (ceremony_id, seq, content) VALUES (?, ?, ?)`, c.ID, i, learning); err != nil {
			return fmt.Errorf("insert learning: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteCeremony removes a ceremony row and its children — used by the
// ceremony orchestrator's rollback path when the transcript or VCS step of a
// ceremony transaction fails after the DB insert.
func (s *Store) DeleteCeremony(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin ceremony delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ceremony_action_items WHERE ceremony_id = ?`, id); err != nil {
		return fmt.Errorf("delete action items: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM ceremony_learnings WHERE ceremony_id = ?`, id); err != nil {
		return fmt.Errorf("delete learnings: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM ceremonies WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete ceremony: %w", err)
	}
	return tx.Commit()
}

// InsertMessage inserts a message. If m.ReplyToMessageID is set, it ensures a
// thread exists for the parent message (creating one, with id m.ThreadID, if
// this is the parent's first reply) and attaches the new message to it, so
// trg_message_insert_bumps_thread and trg_thread_reply_count_bumps_parent
// fire as the message lands. threadCreated reports whether this call created
// the thread row, so a caller publishing thread.created vs thread.reply
// doesn't need a separate lookup.
func (s *Store) InsertMessage(m Message) (threadCreated bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin message insert: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if m.ReplyToMessageID != "" {
		var threadID string
		err = tx.QueryRow(`SELECT id FROM threads WHERE parent_message_id = ?`, m.ReplyToMessageID).Scan(&threadID)
		switch {
		case err == sql.ErrNoRows:
			threadID = m.ThreadID
			if threadID == "" {
				err = fmt.Errorf("insert message: reply to %s needs a thread id", m.ReplyToMessageID)
				return false, err
			}
			_, err = tx.Exec(`
				INSERT INTO threads (id, parent_message_id, conversation_id, conversation_type, reply_count, created_at, updated_at)
				VALUES (?, ?, ?, ?, 0, ?, ?)
			`, threadID, m.ReplyToMessageID, m.ConversationID, m.ConversationType, m.CreatedAt, m.CreatedAt)
			if err != nil {
				err = fmt.Errorf("create thread: %w", err)
				return false, err
			}
			threadCreated = true
		case err != nil:
			err = fmt.Errorf("lookup thread: %w", err)
			return false, err
		}
		m.ThreadID = threadID
	}

	_, err = tx.Exec(`
		INSERT INTO messages (id, conversation_id, conversation_type, content, role, agent_id, thread_id, reply_to_message_id, thread_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.ConversationType, m.Content, m.Role, nullString(m.AgentID), nullString(m.ThreadID), nullString(m.ReplyToMessageID), m.ThreadCount, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		err = fmt.Errorf("insert message: %w", err)
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return threadCreated, nil
}

// nullString converts an empty string to a SQL NULL so optional TEXT columns
// (agent_id, thread_id, reply_to_message_id) stay NULL rather than "".
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetThread returns the thread rooted at parentMessageID.
func (s *Store) GetThread(parentMessageID string) (Thread, error) {
	var t Thread
	err := s.db.QueryRow(`
		SELECT id, parent_message_id, conversation_id, conversation_type, reply_count, created_at, updated_at
		FROM threads WHERE parent_message_id = ?
	`, parentMessageID).Scan(&t.ID, &t.ParentMessageID, &t.ConversationID, &t.ConversationType, &t.ReplyCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

// MessagesInThread returns every message attached to threadID, oldest first.
func (s *Store) MessagesInThread(threadID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, conversation_type, content, role, IFNULL(agent_id, ''), IFNULL(thread_id, ''),
			IFNULL(reply_to_message_id, ''), thread_count, created_at, updated_at
		FROM messages WHERE thread_id = ? ORDER BY created_at
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query thread messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ConversationType, &m.Content, &m.Role, &m.AgentID, &m.ThreadID,
			&m.ReplyToMessageID, &m.ThreadCount, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CeremonyExists reports whether a ceremony row with id exists.
func (s *Store) CeremonyExists(id string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ceremonies WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check ceremony exists: %w", err)
	}
	return count > 0, nil
}
