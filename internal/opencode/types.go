// Package opencode is a client for the opencode agent server's REST and
// server-sent-event API.
package opencode

import "encoding/json"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType is the closed set of part kinds pocketcode renders. The server
// also emits bookkeeping kinds (step-start, step-finish, file, ...); those
// decode with their raw type string and are carried but not rendered.
type PartType string

const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
	PartTool      PartType = "tool"
	// PartLoading never comes from the server. It marks a message that has
	// no parts yet.
	PartLoading PartType = "loading"
)

// Renderable reports whether t is one of the kinds the transcript shows.
func (t PartType) Renderable() bool {
	switch t {
	case PartText, PartReasoning, PartTool, PartLoading:
		return true
	}
	return false
}

// ToolStatus is the lifecycle state of a tool invocation.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// MessageTime holds message timestamps in unix milliseconds.
type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// MessageInfo is the metadata half of a message.
type MessageInfo struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionID"`
	Role       Role        `json:"role"`
	ModelID    string      `json:"modelID,omitempty"`
	ProviderID string      `json:"providerID,omitempty"`
	Time       MessageTime `json:"time"`
}

// PartTime carries the timestamps a part may have. Created is preferred
// for ordering; Start is what streaming parts usually carry.
type PartTime struct {
	Created int64 `json:"created,omitempty"`
	Start   int64 `json:"start,omitempty"`
	End     int64 `json:"end,omitempty"`
}

// ToolState is the payload of a tool part.
type ToolState struct {
	Status   ToolStatus     `json:"status"`
	Input    map[string]any `json:"input,omitempty"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Part is one renderable fragment of a message.
type Part struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageID"`
	SessionID string    `json:"sessionID,omitempty"`
	Type      PartType  `json:"type"`
	Text      string    `json:"text,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	CallID    string    `json:"callID,omitempty"`
	State     ToolState `json:"state,omitempty"`
	Time      *PartTime `json:"time,omitempty"`
}

// CreatedAt returns the part's creation timestamp and whether it has one.
// A start time alone does not count.
func (p Part) CreatedAt() (int64, bool) {
	if p.Time == nil || p.Time.Created == 0 {
		return 0, false
	}
	return p.Time.Created, true
}

// Clone returns a deep copy of p.
func (p Part) Clone() Part {
	c := p
	if p.Time != nil {
		t := *p.Time
		c.Time = &t
	}
	c.State.Input = cloneMap(p.State.Input)
	c.State.Metadata = cloneMap(p.State.Metadata)
	return c
}

// Message is a message with its ordered parts.
type Message struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	c := Message{Info: m.Info, Parts: make([]Part, len(m.Parts))}
	for i, p := range m.Parts {
		c.Parts[i] = p.Clone()
	}
	return c
}

// Permission is a pending authorization request for a tool call.
type Permission struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID,omitempty"`
	CallID    string         `json:"callID,omitempty"`
	Type      string         `json:"type,omitempty"`
	Title     string         `json:"title,omitempty"`
	Status    string         `json:"status,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionTime holds session timestamps in unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// Session is a server-side conversation.
type Session struct {
	ID       string      `json:"id"`
	ParentID string      `json:"parentID,omitempty"`
	Title    string      `json:"title"`
	Version  string      `json:"version,omitempty"`
	Time     SessionTime `json:"time"`
}

// Model is one model offered by a provider.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Provider is an LLM provider configured on the server.
type Provider struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Models map[string]Model `json:"models"`
}

// ProvidersResponse is the body of GET /config/providers.
type ProvidersResponse struct {
	Providers []Provider        `json:"providers"`
	Default   map[string]string `json:"default"`
}

// AppInfo is the subset of GET /app pocketcode shows.
type AppInfo struct {
	Hostname string `json:"hostname"`
	Path     struct {
		Cwd  string `json:"cwd"`
		Root string `json:"root"`
	} `json:"path"`
}

// TextPartInput is a text part in a chat request.
type TextPartInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChatRequest is the body of POST /session/{id}/message.
type ChatRequest struct {
	ProviderID string          `json:"providerID"`
	ModelID    string          `json:"modelID"`
	Parts      []TextPartInput `json:"parts"`
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	// Values are JSON-decoded trees; a round trip is the simplest deep copy.
	data, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}
