package conversation

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Status string

const (
	// StatusStreaming marks a message whose content is still being filled by
	// an open response. StatusComplete is terminal; a message never moves
	// back to streaming.
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
)

// ImageResult is attached to an assistant message once an image generation
// call resolves.
type ImageResult struct {
	URL         string    `json:"url"`
	Prompt      string    `json:"prompt"`
	Filename    string    `json:"filename"`
	CreatedAt   time.Time `json:"created_at"`
	IsVariation bool      `json:"is_variation"`
}

// Message is one entry in a conversation transcript. Content of a user
// message is set once at creation; content of an assistant message may be
// appended to while the message is streaming.
type Message struct {
	ID      string       `json:"id"`
	Role    Role         `json:"role"`
	Content string       `json:"content"`
	Status  Status       `json:"status"`
	Image   *ImageResult `json:"image,omitempty"`

	// Transient rendering affordances, cleared once the corresponding
	// operation resolves.
	IsUploadMessage   bool `json:"is_upload_message,omitempty"`
	IsImageGeneration bool `json:"is_image_generation,omitempty"`
}

// MessagePatch merges fields into an existing message. Nil fields are left
// untouched.
type MessagePatch struct {
	Content           *string
	Status            *Status
	Image             *ImageResult
	IsUploadMessage   *bool
	IsImageGeneration *bool
}

var fallbackSeq atomic.Uint64

// NewMessageID returns a process-unique message id. It prefers a random
// UUID; if the secure random source is unavailable it falls back to a
// time/counter/pseudo-random token that is still unique within the process
// lifetime.
func NewMessageID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return fmt.Sprintf("msg-%x-%x-%06x", time.Now().UnixNano(), fallbackSeq.Add(1), rand.Intn(1<<24))
}

// PatchContent and friends build patch fields without cluttering call sites.
func PatchContent(s string) *string { return &s }
func PatchStatus(s Status) *Status  { return &s }
func PatchFlag(b bool) *bool        { return &b }
