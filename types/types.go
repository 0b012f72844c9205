package types

import (
	"time"

	"github.com/google/uuid"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Document struct {
	ID        uuid.UUID `json:"id"`
	Filename  string    `json:"filename"`
	Filepath  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is one embedded window of a document. VectorID is the chunk's row
// position inside the vector index; a full rebuild re-establishes it after
// any document is deleted.
type Chunk struct {
	ID         int64
	DocumentID uuid.UUID
	Locator    int
	Content    string
	VectorID   int64
	Embedding  []float32
}

// Citation is derived at query time and never persisted. Used citations are
// tagged [1..n] and injected into the prompt; retrieved citations are tagged
// [cand1..candN] and returned to the caller for display only.
type Citation struct {
	Tag      string  `json:"tag"`
	Filename string  `json:"filename"`
	Locator  int     `json:"locator"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

type UserProfile struct {
	Memory string `json:"memory"`
}

type UserPrefs struct {
	Language   string `json:"language"`
	Tone       string `json:"tone"`
	FormatHint string `json:"format_hint"`
	CiteStyle  string `json:"cite_style"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
