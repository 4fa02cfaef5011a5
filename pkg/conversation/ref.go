package conversation

// Ref identifies a conversation slot. The zero value is the draft slot: a
// conversation the user is composing in before the server has assigned an
// id. Keeping the two cases in one comparable type means draft state (tool
// mode selection, pending attachments) can never be confused with a real
// conversation key.
type Ref struct {
	id string
}

// Draft is the pre-creation slot shared by all not-yet-created conversations.
var Draft = Ref{}

// Existing wraps a server-assigned conversation id.
func Existing(id string) Ref {
	return Ref{id: id}
}

func (r Ref) IsDraft() bool {
	return r.id == ""
}

// ID returns the server-assigned id, or the empty string for the draft slot.
func (r Ref) ID() string {
	return r.id
}

func (r Ref) String() string {
	if r.IsDraft() {
		return "draft"
	}
	return r.id
}
