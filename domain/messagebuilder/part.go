// Package messagebuilder incrementally assembles a structured assistant
// Message from streaming model/tool events (spec component B), publishing
// fine-grained events on an eventbus.Bus as it goes. Grounded on the
// teacher's pkg/sse token-event vocabulary (meta/token/mcp_tool/error/done)
// and the incremental-persistence idiom of domain/agents/executor.go's
// statePersister.
package messagebuilder

import "time"

// PartType discriminates a Part's payload, all serialized camelCase (§3).
type PartType string

const (
	PartText         PartType = "text"
	PartToolCall     PartType = "toolCall"
	PartToolResult   PartType = "toolResult"
	PartReasoning    PartType = "reasoning"
	PartError        PartType = "error"
	PartImage        PartType = "image"
	PartStepBoundary PartType = "stepBoundary"
)

// ToolCallStatus is the lifecycle of a toolCall part.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// Part is a tagged element of a Message's parts array. Only the fields
// relevant to Type are populated; the rest are zero.
type Part struct {
	Type PartType `json:"type"`

	// text / reasoning
	Text string `json:"text,omitempty"`

	// toolCall
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Status     ToolCallStatus `json:"status,omitempty"`

	// toolResult
	Result  any  `json:"result,omitempty"`
	IsError bool `json:"isError,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	// image
	BytesOrURL string `json:"bytesOrUrl,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
}

// Role of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is an element of Project.conversation (§3). TaskID is an
// orchestrator-internal linkage (not part of the wire Part variants): it
// records which task's AgentRunner produced the message, if any, so the
// conversation tail selection in §4.E step 1(b) can always include a task's
// own prior messages regardless of the default window.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Parts     []Part    `json:"parts"`
	Content   string    `json:"content"`
	TaskID    string    `json:"taskId,omitempty"`
}
