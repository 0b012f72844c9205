package rag

import (
	"sync"

	"mercurial/types"
)

// Conversation is the process-wide ordered message log. Invariant: exactly
// one system message, always at index 0, replaced (not appended) whenever a
// turn begins or the log is cleared.
type Conversation struct {
	mu       sync.Mutex
	messages []types.Message
}

func NewConversation(system string) *Conversation {
	return &Conversation{
		messages: []types.Message{{Role: types.RoleSystem, Content: system}},
	}
}

// PromptMessages returns the message slice for the next completion call: the
// fresh system prompt, all prior non-system turns, then the new user message.
// Nothing is committed; the caller decides after the stream finishes.
func (c *Conversation) PromptMessages(system, user string) []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.Message, 0, len(c.messages)+2)
	out = append(out, types.Message{Role: types.RoleSystem, Content: system})
	out = append(out, c.nonSystem()...)
	out = append(out, types.Message{Role: types.RoleUser, Content: user})
	return out
}

// CommitTurn rebases the system head and appends the completed user and
// assistant messages in order.
func (c *Conversation) CommitTurn(system, user, assistant string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rest := c.nonSystem()
	c.messages = make([]types.Message, 0, len(rest)+3)
	c.messages = append(c.messages, types.Message{Role: types.RoleSystem, Content: system})
	c.messages = append(c.messages, rest...)
	c.messages = append(c.messages,
		types.Message{Role: types.RoleUser, Content: user},
		types.Message{Role: types.RoleAssistant, Content: assistant},
	)
}

// Clear discards all messages except a freshly built system message.
func (c *Conversation) Clear(system string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = []types.Message{{Role: types.RoleSystem, Content: system}}
}

// Messages returns a copy of the current log.
func (c *Conversation) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// nonSystem must be called with the lock held.
func (c *Conversation) nonSystem() []types.Message {
	var out []types.Message
	for _, m := range c.messages {
		if m.Role != types.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
