package orchestrator

import (
	"strings"
	"sync"
)

// Role values recognized by the Context Store, beyond the plain "user" /
// "assistant" / "system" roles the rest of the package already uses.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolUse    = "tool_use"
	RoleToolResult = "tool_result"
)

// PromptBlocks is the ordered 3-block system prompt: persona and
// retrieved-context are cacheable and must never be reordered relative to
// each other; dynamic is never cacheable and always comes last.
type PromptBlocks struct {
	Persona   string
	Retrieved string
	Dynamic   string
}

// Assemble renders the three blocks in their fixed cache-safe order. This is
// the one place the ordering is produced, so accidental reordering
// elsewhere in the codebase is structurally impossible.
func (b PromptBlocks) Assemble() string {
	var parts []string
	for _, block := range []string{b.Persona, b.Retrieved, b.Dynamic} {
		if strings.TrimSpace(block) != "" {
			parts = append(parts, block)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ContextStore owns the conversation message log: a single writer (the Turn
// Processor) and multiple readers (LLM stream assembly), guarded by one
// RWMutex with short critical sections — the same shape as the teacher's
// ConversationSession.AddMessage/GetContextCopy, generalized to sliding-
// window trimming and tool-pair adjacency.
type ContextStore struct {
	mu       sync.RWMutex
	messages []Message
	persona  string
}

// NewContextStore returns an empty store with the given persona block,
// which callers typically hold constant for the life of a session to keep
// the persona prompt-cache-stable.
func NewContextStore(persona string) *ContextStore {
	return &ContextStore{persona: persona}
}

// Append adds a message to the end of the log. Single-writer: callers must
// serialize their own calls (the Turn Processor is the only writer).
func (c *ContextStore) Append(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

// AppendUser/AppendAssistant/AppendToolUse/AppendToolResult are convenience
// wrappers matching the turn order spec §5 requires: (user, [tool_use,
// tool_result]*, assistant).
func (c *ContextStore) AppendUser(content string) {
	c.Append(Message{Role: RoleUser, Content: content})
}

func (c *ContextStore) AppendAssistant(content string) {
	c.Append(Message{Role: RoleAssistant, Content: content})
}

func (c *ContextStore) AppendToolUse(toolUseID, toolName, content string) {
	c.Append(Message{Role: RoleToolUse, ToolUseID: toolUseID, ToolName: toolName, Content: content})
}

func (c *ContextStore) AppendToolResult(toolUseID, toolName, content string) {
	c.Append(Message{Role: RoleToolResult, ToolUseID: toolUseID, ToolName: toolName, Content: content})
}

// Full returns a copy of the entire message log.
func (c *ContextStore) Full() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Clear empties the log, preserving the persona block.
func (c *ContextStore) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// SetPersona replaces the persona block.
func (c *ContextStore) SetPersona(persona string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persona = persona
}

// Window returns a sliding window of the last n user turns (a "turn" begins
// at a RoleUser message and runs through the following tool_use/tool_result
// pairs and the closing assistant message), adjusted so that it never
// starts mid-pair: if the naive cut point falls between a tool_use and its
// tool_result, the window is extended backward to include the tool_use; an
// orphaned tool_result at the leading edge (its tool_use already outside
// the window) is dropped instead.
func (c *ContextStore) Window(n int) []Message {
	c.mu.RLock()
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	c.mu.RUnlock()

	if n <= 0 || len(msgs) == 0 {
		return nil
	}

	// Find the start indices of the last n user turns.
	var turnStarts []int
	for i, m := range msgs {
		if m.Role == RoleUser {
			turnStarts = append(turnStarts, i)
		}
	}
	if len(turnStarts) == 0 {
		return windowWellFormed(msgs, 0)
	}
	if len(turnStarts) > n {
		turnStarts = turnStarts[len(turnStarts)-n:]
	}
	start := turnStarts[0]
	return windowWellFormed(msgs, start)
}

// windowWellFormed returns msgs[start:] after dropping any orphaned
// tool_result at the leading edge. Windowing always cuts at a whole-turn
// boundary (the start of a RoleUser message), so a tool_result can only
// appear at index start if its matching tool_use fell outside the window —
// i.e. it is orphaned by construction and must be dropped rather than kept
// dangling.
func windowWellFormed(msgs []Message, start int) []Message {
	for start < len(msgs) && msgs[start].Role == RoleToolResult {
		start++
	}
	return append([]Message(nil), msgs[start:]...)
}

// SystemPrompt assembles the 3-block prompt, with retrieved holding
// whatever memory/RAG text the caller pre-loaded for this turn.
func (c *ContextStore) SystemPrompt(retrieved, dynamic string) PromptBlocks {
	c.mu.RLock()
	persona := c.persona
	c.mu.RUnlock()
	return PromptBlocks{Persona: persona, Retrieved: retrieved, Dynamic: dynamic}
}

// Len reports the number of messages currently logged.
func (c *ContextStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
