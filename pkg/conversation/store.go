package conversation

import (
	"sync"
)

// UploadState is the coarse phase of the per-conversation upload pipeline.
type UploadState string

const (
	UploadIdle      UploadState = "idle"
	UploadUploading UploadState = "uploading"
	UploadIndexing  UploadState = "indexing"
)

// UploadStatus is the UI-facing upload phase plus the last error text, kept
// per conversation. The error text is an opaque display string.
type UploadStatus struct {
	State     UploadState `json:"state"`
	LastError string      `json:"last_error,omitempty"`
}

// convState is the owned per-conversation record. All mutation goes through
// the Store so reads never observe torn updates.
type convState struct {
	messages []Message
	loading  bool
	upload   UploadStatus
}

// Store owns every conversation's transcript, loading flag and upload
// status behind a single mutex. Handlers for different conversations'
// streams may run on different goroutines, so the arena serializes access.
type Store struct {
	mu    sync.Mutex
	convs map[Ref]*convState
}

func NewStore() *Store {
	return &Store{convs: map[Ref]*convState{}}
}

func (s *Store) stateLocked(ref Ref) *convState {
	st, ok := s.convs[ref]
	if !ok {
		st = &convState{upload: UploadStatus{State: UploadIdle}}
		s.convs[ref] = st
	}
	return st
}

// Get returns a copy of the conversation's message list.
func (s *Store) Get(ref Ref) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.convs[ref]
	if !ok {
		return nil
	}
	out := make([]Message, len(st.messages))
	copy(out, st.messages)
	return out
}

// Append adds a message with a fresh process-unique id and returns it.
func (s *Store) Append(ref Ref, role Role, content string, status Status, image *ImageResult) Message {
	msg := Message{
		ID:      NewMessageID(),
		Role:    role,
		Content: content,
		Status:  status,
		Image:   image,
	}
	s.mu.Lock()
	st := s.stateLocked(ref)
	st.messages = append(st.messages, msg)
	s.mu.Unlock()
	return msg
}

// UpdateContent applies fn to the message's current content and stores the
// result. This is the incremental-token path: fn typically appends a stream
// fragment. Updates targeting a missing conversation or message id are
// no-ops because late stream events can race a Clear.
func (s *Store) UpdateContent(ref Ref, msgID string, fn func(prev string) string) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.convs[ref]
	if !ok {
		return
	}
	for i := range st.messages {
		if st.messages[i].ID == msgID {
			st.messages[i].Content = fn(st.messages[i].Content)
			return
		}
	}
}

// Patch merges non-nil fields into the message. Missing ids are no-ops.
func (s *Store) Patch(ref Ref, msgID string, p MessagePatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.convs[ref]
	if !ok {
		return
	}
	for i := range st.messages {
		if st.messages[i].ID != msgID {
			continue
		}
		m := &st.messages[i]
		if p.Content != nil {
			m.Content = *p.Content
		}
		if p.Status != nil {
			m.Status = *p.Status
		}
		if p.Image != nil {
			m.Image = p.Image
		}
		if p.IsUploadMessage != nil {
			m.IsUploadMessage = *p.IsUploadMessage
		}
		if p.IsImageGeneration != nil {
			m.IsImageGeneration = *p.IsImageGeneration
		}
		return
	}
}

// Find returns a copy of the message with the given id.
func (s *Store) Find(ref Ref, msgID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.convs[ref]
	if !ok {
		return Message{}, false
	}
	for i := range st.messages {
		if st.messages[i].ID == msgID {
			return st.messages[i], true
		}
	}
	return Message{}, false
}

// Last returns the most recent message, if any.
func (s *Store) Last(ref Ref) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.convs[ref]
	if !ok || len(st.messages) == 0 {
		return Message{}, false
	}
	return st.messages[len(st.messages)-1], true
}

// Clear drops the conversation's local state.
func (s *Store) Clear(ref Ref) {
	s.mu.Lock()
	delete(s.convs, ref)
	s.mu.Unlock()
}

// ClearAll drops every conversation.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.convs = map[Ref]*convState{}
	s.mu.Unlock()
}

// SetLoading flips the coarse UI-facing in-flight flag.
func (s *Store) SetLoading(ref Ref, loading bool) {
	s.mu.Lock()
	s.stateLocked(ref).loading = loading
	s.mu.Unlock()
}

func (s *Store) Loading(ref Ref) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.convs[ref]
	return ok && st.loading
}

// SetUploadStatus records the upload phase and, for failures, the last
// error text.
func (s *Store) SetUploadStatus(ref Ref, state UploadState, errText string) {
	s.mu.Lock()
	st := s.stateLocked(ref)
	st.upload = UploadStatus{State: state, LastError: errText}
	s.mu.Unlock()
}

func (s *Store) UploadStatus(ref Ref) UploadStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.convs[ref]
	if !ok {
		return UploadStatus{State: UploadIdle}
	}
	return st.upload
}
