package deepsearch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// --- LLM protocol types ---

type ChatMessage struct {
	Role       string          `json:"role"` // "system", "user", "assistant", "tool"
	Content    string          `json:"content"`
	Images     []ImageData     `json:"images,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

type ImageData struct {
	MimeType string `json:"mime_type"`
	Base64   string `json:"base64"`
}

type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ArgsMap decodes the call arguments into a generic map. A nil or empty
// Args decodes to an empty map rather than an error.
func (c ToolCall) ArgsMap() (map[string]any, error) {
	if len(c.Args) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Args, &m); err != nil {
		return nil, fmt.Errorf("tool call %s: decode args: %w", c.Name, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

type ChatRequest struct {
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	// JSONOutput asks the model for a JSON-object response. Used by the
	// structured-outputs mode of the code-acting agent.
	JSONOutput bool `json:"-"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- Streaming ---

// Delta is one incremental piece of a streaming model response. A Delta
// with Err set is terminal: the producer closes the channel right after.
type Delta struct {
	Content  string    `json:"content,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Usage    *Usage    `json:"usage,omitempty"`
	Finished bool      `json:"finished,omitempty"`
	Err      string    `json:"error,omitempty"`
}

// --- Final answer payload ---

// FinalAnswer is the payload of the terminal final_answer tool call.
// All three fields are required; Content should carry a "## Sources"
// section mirroring Sources.
type FinalAnswer struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Sources []string `json:"sources"`
}

// Validate reports whether the payload satisfies the final_answer
// contract: title, content and sources all present. Sources may be an
// empty list but must not be absent.
func (f FinalAnswer) Validate() error {
	if strings.TrimSpace(f.Title) == "" || strings.TrimSpace(f.Content) == "" || f.Sources == nil {
		return fmt.Errorf("final_answer requires title, content, sources")
	}
	return nil
}

// ParseFinalAnswer decodes a final_answer argument map. Accepts both the
// enveloped wire form {"answer": {"title": …}} and the flat form
// {"title": …}. The payload is validated before returning.
func ParseFinalAnswer(args map[string]any) (FinalAnswer, error) {
	payload := args
	if inner, ok := args["answer"].(map[string]any); ok {
		payload = inner
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return FinalAnswer{}, fmt.Errorf("final_answer: encode payload: %w", err)
	}
	var fa FinalAnswer
	if err := json.Unmarshal(raw, &fa); err != nil {
		return FinalAnswer{}, fmt.Errorf("final_answer: decode payload: %w", err)
	}
	if err := fa.Validate(); err != nil {
		return FinalAnswer{}, err
	}
	return fa, nil
}

// JSON renders the payload in its canonical wire form.
func (f FinalAnswer) JSON() string {
	b, _ := json.Marshal(f)
	return string(b)
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
