// Package model defines domain types for chat sessions, exchanges, and cache metadata.
package model

import (
	"encoding/json"
	"time"
)

// Role tags a message with its author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the assistant.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one role-tagged record in a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Metadata carries the session attributes supplied alongside a save.
// Empty fields mean "not known by this caller" and never erase stored values.
type Metadata struct {
	InitialRequest string
	ProjectRoot    string
}

// ChatSession is the persisted state of one conversation.
type ChatSession struct {
	ChatID         string     `json:"chat_id"`
	InitialRequest string     `json:"initial_request,omitempty"`
	ProjectRoot    string     `json:"project_root,omitempty"`
	Messages       []Message  `json:"messages"`
	CacheInfo      *CacheInfo `json:"cache_info,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ChatSummary is a lightweight listing entry.
type ChatSummary struct {
	ChatID       string    `json:"chat_id"`
	ProjectRoot  string    `json:"project_root,omitempty"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CloneMessages returns a deep copy of msgs.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.ToolCalls != nil {
			out[i].ToolCalls = make([]ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				out[i].ToolCalls[j] = tc
				if tc.Arguments != nil {
					out[i].ToolCalls[j].Arguments = append(json.RawMessage(nil), tc.Arguments...)
				}
			}
		}
	}
	return out
}
