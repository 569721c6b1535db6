package models

import "time"

// AgentType selects which message log an entry belongs to.
type AgentType string

const (
	AgentPlanner AgentType = "planner"
	AgentWorker  AgentType = "worker"
	AgentRouter  AgentType = "router"
)

// Role is the speaker of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one append-only entry in an agent's conversation log.
type Message struct {
	ID        int64     `json:"id"`
	AgentType AgentType `json:"agent_type"`
	AgentID   string    `json:"agent_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is router-level thread metadata.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
