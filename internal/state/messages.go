package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// messageTables maps each agent type to its message table. Table names are
// never built from caller input.
var messageTables = map[models.AgentType]string{
	models.AgentPlanner: "planner_messages",
	models.AgentWorker:  "worker_messages",
	models.AgentRouter:  "router_messages",
}

func messageTable(agentType models.AgentType) (string, error) {
	table, ok := messageTables[agentType]
	if !ok {
		return "", fmt.Errorf("unknown agent type %q", agentType)
	}
	return table, nil
}

// AppendMessage appends a message to an agent's log.
func (db *DB) AppendMessage(agentType models.AgentType, agentID string, role models.Role, content string) (*models.Message, error) {
	table, err := messageTable(agentType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	result, err := db.Exec(`
		INSERT INTO `+table+` (agent_id, role, content, created_at) VALUES (?, ?, ?, ?)
	`, agentID, string(role), content, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get message id: %w", err)
	}

	return &models.Message{
		ID:        id,
		AgentType: agentType,
		AgentID:   agentID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}, nil
}

// ListMessages returns an agent's messages in the order they were appended.
func (db *DB) ListMessages(agentType models.AgentType, agentID string) ([]models.Message, error) {
	table, err := messageTable(agentType)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT id, agent_id, role, content, created_at FROM `+table+`
		WHERE agent_id = ?
		ORDER BY created_at ASC, id ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m := models.Message{AgentType: agentType}
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.AgentID, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		m.CreatedAt, _ = parseTime(createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ClearMessages deletes all messages of an agent.
func (db *DB) ClearMessages(agentType models.AgentType, agentID string) (int64, error) {
	table, err := messageTable(agentType)
	if err != nil {
		return 0, err
	}

	result, err := db.Exec(`DELETE FROM `+table+` WHERE agent_id = ?`, agentID)
	if err != nil {
		return 0, fmt.Errorf("clear messages: %w", err)
	}
	return result.RowsAffected()
}

// Conversation CRUD operations

// CreateConversation creates a new conversation.
func (db *DB) CreateConversation(c *models.Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt

	_, err := db.Exec(`
		INSERT INTO conversations (id, title, preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.Title, c.Preview, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (db *DB) GetConversation(id string) (*models.Conversation, error) {
	row := db.QueryRow(`
		SELECT id, title, preview, created_at, updated_at FROM conversations WHERE id = ?
	`, id)

	var c models.Conversation
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.Title, &c.Preview, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	c.CreatedAt, _ = parseTime(createdAt)
	c.UpdatedAt, _ = parseTime(updatedAt)
	return &c, nil
}

// UpdateConversation updates a conversation's title and preview.
func (db *DB) UpdateConversation(c *models.Conversation) error {
	c.UpdatedAt = time.Now()

	_, err := db.Exec(`
		UPDATE conversations SET title = ?, preview = ?, updated_at = ? WHERE id = ?
	`, c.Title, c.Preview, formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return nil
}

// ListConversations lists conversations, most recently updated first.
func (db *DB) ListConversations(limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.Query(`
		SELECT id, title, preview, created_at, updated_at FROM conversations
		ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Title, &c.Preview, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.CreatedAt, _ = parseTime(createdAt)
		c.UpdatedAt, _ = parseTime(updatedAt)
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// DeleteConversation deletes a conversation and its router messages.
func (db *DB) DeleteConversation(id string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM router_messages WHERE agent_id = ?`, id); err != nil {
			return fmt.Errorf("delete conversation messages: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}
