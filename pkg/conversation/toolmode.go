package conversation

import (
	"sync"
)

// Mode is the single active augmentation applied to a conversation's next
// query. Modes are mutually exclusive per conversation slot.
type Mode string

const (
	ModeNone          Mode = ""
	ModeCodeAnalysis  Mode = "code"
	ModeWebSearch     Mode = "web"
	ModeImageCreation Mode = "image"
	ModeKnowledgeBase Mode = "kb"
)

// modeFlags stores the four exclusive toggles plus the selected knowledge
// base name. Kept as flags rather than a single Mode value so disabling one
// mode leaves the others untouched, matching the toggle semantics of the UI.
type modeFlags struct {
	code   bool
	web    bool
	image  bool
	kb     bool
	kbName string
}

func (f modeFlags) active() Mode {
	switch {
	case f.code:
		return ModeCodeAnalysis
	case f.web:
		return ModeWebSearch
	case f.image:
		return ModeImageCreation
	case f.kb:
		return ModeKnowledgeBase
	default:
		return ModeNone
	}
}

// Register owns tool-mode selection per conversation slot, including the
// draft slot for conversations that do not exist yet.
type Register struct {
	mu    sync.Mutex
	modes map[Ref]*modeFlags
}

func NewRegister() *Register {
	return &Register{modes: map[Ref]*modeFlags{}}
}

func (r *Register) flagsLocked(ref Ref) *modeFlags {
	f, ok := r.modes[ref]
	if !ok {
		f = &modeFlags{}
		r.modes[ref] = f
	}
	return f
}

// Get returns the single active mode for the slot, ModeNone when nothing is
// enabled.
func (r *Register) Get(ref Ref) Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.modes[ref]
	if !ok {
		return ModeNone
	}
	return f.active()
}

// KnowledgeBase returns the selected knowledge base name for the slot.
func (r *Register) KnowledgeBase(ref Ref) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.modes[ref]
	if !ok {
		return ""
	}
	return f.kbName
}

// SetMode enables or disables one mode. Enabling clears the other three
// first so at most one mode is ever active; disabling clears only the
// requested mode.
func (r *Register) SetMode(ref Ref, mode Mode, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.flagsLocked(ref)
	if enabled {
		f.code, f.web, f.image, f.kb = false, false, false, false
	}
	switch mode {
	case ModeCodeAnalysis:
		f.code = enabled
	case ModeWebSearch:
		f.web = enabled
	case ModeImageCreation:
		f.image = enabled
	case ModeKnowledgeBase:
		f.kb = enabled
	}
	if mode == ModeKnowledgeBase && !enabled {
		f.kbName = ""
	}
}

// SetKnowledgeBase records the knowledge base name used when the kb mode is
// active.
func (r *Register) SetKnowledgeBase(ref Ref, name string) {
	r.mu.Lock()
	r.flagsLocked(ref).kbName = name
	r.mu.Unlock()
}

// Promote copies the draft slot's selection verbatim into the real
// conversation key at creation time, so a mode chosen before the first
// message survives conversation creation. The draft slot is reset so the
// next draft starts clean.
func (r *Register) Promote(to Ref) {
	if to.IsDraft() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.modes[Draft]
	if !ok {
		return
	}
	copied := *f
	r.modes[to] = &copied
	delete(r.modes, Draft)
}

// Clear drops the slot's selection.
func (r *Register) Clear(ref Ref) {
	r.mu.Lock()
	delete(r.modes, ref)
	r.mu.Unlock()
}
