package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentarena/agentarena/internal/db"
	"github.com/agentarena/agentarena/internal/db/dialect"
	"github.com/agentarena/agentarena/internal/group/models"
)

// Repository implements Store over a writer/reader connection pool.
// The same SQL works against SQLite and PostgreSQL; placeholders are
// rebound per driver.
type Repository struct {
	pool *db.Pool
}

// NewRepository creates the repository and initializes the schema.
func NewRepository(pool *db.Pool) (*Repository, error) {
	repo := &Repository{pool: pool}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the underlying connection pool.
func (r *Repository) Close() error {
	return r.pool.Close()
}

// initSchema creates the database tables if they don't exist.
// "chat_groups" avoids the GROUPS reserved word in PostgreSQL.
func (r *Repository) initSchema() error {
	if _, err := r.pool.Writer().Exec(`
	CREATE TABLE IF NOT EXISTS chat_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		config TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'agent',
		agent_id TEXT DEFAULT '',
		display_name TEXT NOT NULL,
		role_in_group TEXT DEFAULT '',
		joined_at TIMESTAMP NOT NULL,
		FOREIGN KEY (group_id) REFERENCES chat_groups(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS group_messages (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		turn_id TEXT DEFAULT '',
		author_id TEXT DEFAULT '',
		author_type TEXT NOT NULL DEFAULT 'human',
		author_name TEXT DEFAULT '',
		content TEXT NOT NULL,
		mentions TEXT DEFAULT '[]',
		attachments TEXT DEFAULT '[]',
		metadata TEXT DEFAULT '{}',
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (group_id) REFERENCES chat_groups(id) ON DELETE CASCADE
	);
	`); err != nil {
		return err
	}

	_, err := r.pool.Writer().Exec(`
	CREATE INDEX IF NOT EXISTS idx_group_members_group_id ON group_members(group_id);
	CREATE INDEX IF NOT EXISTS idx_group_messages_group_id ON group_messages(group_id);
	CREATE INDEX IF NOT EXISTS idx_group_messages_timestamp ON group_messages(timestamp);
	`)
	return err
}

// Group operations

// CreateGroup creates a new group
func (r *Repository) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	group.Config.ApplyDefaults()

	configJSON, err := json.Marshal(group.Config)
	if err != nil {
		return fmt.Errorf("failed to serialize group config: %w", err)
	}

	w := r.pool.Writer()
	_, err = w.ExecContext(ctx, w.Rebind(`
		INSERT INTO chat_groups (id, name, description, config, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), group.ID, group.Name, group.Description, string(configJSON), group.CreatedAt)
	return err
}

// GetGroup retrieves a group by ID
func (r *Repository) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	ro := r.pool.Reader()
	group := &models.Group{}
	var configJSON string
	err := ro.QueryRowContext(ctx, ro.Rebind(`
		SELECT id, name, description, config, created_at
		FROM chat_groups WHERE id = ?
	`), id).Scan(&group.ID, &group.Name, &group.Description, &configJSON, &group.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &group.Config); err != nil {
		return nil, fmt.Errorf("failed to deserialize group config: %w", err)
	}
	group.Config.ApplyDefaults()
	return group, nil
}

// ListGroups returns all groups ordered by creation time.
func (r *Repository) ListGroups(ctx context.Context) ([]*models.Group, error) {
	ro := r.pool.Reader()
	rows, err := ro.QueryContext(ctx, `
		SELECT id, name, description, config, created_at
		FROM chat_groups ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Group
	for rows.Next() {
		group := &models.Group{}
		var configJSON string
		if err := rows.Scan(&group.ID, &group.Name, &group.Description, &configJSON, &group.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(configJSON), &group.Config); err != nil {
			return nil, fmt.Errorf("failed to deserialize group config: %w", err)
		}
		group.Config.ApplyDefaults()
		result = append(result, group)
	}
	return result, rows.Err()
}

// DeleteGroup deletes a group; members and messages cascade.
func (r *Repository) DeleteGroup(ctx context.Context, id string) error {
	w := r.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`DELETE FROM chat_groups WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// Member operations

// AddMember adds a member to a group
func (r *Repository) AddMember(ctx context.Context, member *models.GroupMember) error {
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	if member.Type == "" {
		member.Type = models.MemberAgent
	}

	w := r.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`
		INSERT INTO group_members (id, group_id, type, agent_id, display_name, role_in_group, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), member.ID, member.GroupID, member.Type, member.AgentID, member.DisplayName, member.RoleInGroup, member.JoinedAt)
	return err
}

// RemoveMember removes a member from a group
func (r *Repository) RemoveMember(ctx context.Context, groupID, memberID string) error {
	w := r.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`
		DELETE FROM group_members WHERE group_id = ? AND id = ?
	`), groupID, memberID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// ListMembers returns the group's members in join order. Quota selection
// in the orchestrator relies on this order being stable.
func (r *Repository) ListMembers(ctx context.Context, groupID string) ([]*models.GroupMember, error) {
	ro := r.pool.Reader()
	rows, err := ro.QueryContext(ctx, ro.Rebind(`
		SELECT id, group_id, type, agent_id, display_name, role_in_group, joined_at
		FROM group_members WHERE group_id = ? ORDER BY joined_at ASC, id ASC
	`), groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.GroupMember
	for rows.Next() {
		member := &models.GroupMember{}
		if err := rows.Scan(&member.ID, &member.GroupID, &member.Type, &member.AgentID,
			&member.DisplayName, &member.RoleInGroup, &member.JoinedAt); err != nil {
			return nil, err
		}
		result = append(result, member)
	}
	return result, rows.Err()
}

// Message operations

// SaveMessage persists a message
func (r *Repository) SaveMessage(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	if message.AuthorType == "" {
		message.AuthorType = models.AuthorHuman
	}

	mentionsJSON, err := marshalOrDefault(message.Mentions, "[]")
	if err != nil {
		return fmt.Errorf("failed to serialize mentions: %w", err)
	}
	attachmentsJSON, err := marshalOrDefault(message.Attachments, "[]")
	if err != nil {
		return fmt.Errorf("failed to serialize attachments: %w", err)
	}
	metadataJSON, err := marshalOrDefault(message.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("failed to serialize message metadata: %w", err)
	}

	w := r.pool.Writer()
	_, err = w.ExecContext(ctx, w.Rebind(`
		INSERT INTO group_messages (id, group_id, turn_id, author_id, author_type, author_name, content, mentions, attachments, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), message.ID, message.GroupID, message.TurnID, message.AuthorID, message.AuthorType,
		message.AuthorName, message.Content, mentionsJSON, attachmentsJSON, metadataJSON, message.Timestamp)
	return err
}

// GetMessages returns the newest messages for a group in chronological
// order. Limit bounds the window (most recent first, then reversed);
// Before restricts to messages strictly older than the given time.
func (r *Repository) GetMessages(ctx context.Context, groupID string, opts ListMessagesOptions) ([]*models.Message, error) {
	query := messageColumns + ` WHERE group_id = ?`
	args := []interface{}{groupID}
	if opts.Before != nil {
		query += " AND timestamp < ?"
		args = append(args, *opts.Before)
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	return r.queryMessages(ctx, query, args...)
}

// SearchMessages returns the newest messages whose content contains the
// query as a literal substring, in chronological order. Matching is
// case-insensitive on PostgreSQL (ILIKE) and ASCII-case-insensitive on
// SQLite.
func (r *Repository) SearchMessages(ctx context.Context, groupID, query string, limit int) ([]*models.Message, error) {
	stmt := messageColumns + ` WHERE group_id = ? AND content ` +
		dialect.Like(r.pool.Reader().DriverName()) + ` ? ESCAPE '\'` +
		" ORDER BY timestamp DESC, id DESC"
	args := []interface{}{groupID, dialect.ContainsPattern(query)}
	if limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryMessages(ctx, stmt, args...)
}

const messageColumns = `
	SELECT id, group_id, turn_id, author_id, author_type, author_name, content, mentions, attachments, metadata, timestamp
	FROM group_messages`

// queryMessages runs a newest-first message query and reverses the rows
// into chronological order.
func (r *Repository) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	ro := r.pool.Reader()
	rows, err := ro.QueryContext(ctx, ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var newestFirst []*models.Message
	for rows.Next() {
		message := &models.Message{}
		var mentionsJSON, attachmentsJSON, metadataJSON string
		if err := rows.Scan(&message.ID, &message.GroupID, &message.TurnID, &message.AuthorID,
			&message.AuthorType, &message.AuthorName, &message.Content,
			&mentionsJSON, &attachmentsJSON, &metadataJSON, &message.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mentionsJSON), &message.Mentions); err != nil {
			return nil, fmt.Errorf("failed to deserialize mentions: %w", err)
		}
		if err := json.Unmarshal([]byte(attachmentsJSON), &message.Attachments); err != nil {
			return nil, fmt.Errorf("failed to deserialize attachments: %w", err)
		}
		if metadataJSON != "" && metadataJSON != "{}" {
			if err := json.Unmarshal([]byte(metadataJSON), &message.Metadata); err != nil {
				return nil, fmt.Errorf("failed to deserialize message metadata: %w", err)
			}
		}
		newestFirst = append(newestFirst, message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

// CountMessages returns the number of messages in a group.
func (r *Repository) CountMessages(ctx context.Context, groupID string) (int64, error) {
	ro := r.pool.Reader()
	var count int64
	err := ro.QueryRowContext(ctx, ro.Rebind(`
		SELECT COUNT(*) FROM group_messages WHERE group_id = ?
	`), groupID).Scan(&count)
	return count, err
}

func marshalOrDefault(v interface{}, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}
