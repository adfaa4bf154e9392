package domain

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	Role ChatRole `json:"role"`
	Text string   `json:"text"`
}

// Request is the immutable input of one orchestration run.
type Request struct {
	Question           string        `json:"question"`
	ChatHistory        []ChatMessage `json:"chat_history,omitempty"`
	SelectedSourceIDs  []string      `json:"selected_source_ids,omitempty"`
	PermittedSourceIDs []string      `json:"permitted_source_ids,omitempty"`
	Settings           AISettings    `json:"-"`
}

func (r Request) HasSelection() bool {
	return len(r.SelectedSourceIDs) > 0
}

// EligibleSourceIDs is the selection filtered by permission, in selection order.
func (r Request) EligibleSourceIDs() []string {
	permitted := make(map[string]struct{}, len(r.PermittedSourceIDs))
	for _, id := range r.PermittedSourceIDs {
		permitted[id] = struct{}{}
	}
	out := make([]string, 0, len(r.SelectedSourceIDs))
	seen := make(map[string]struct{}, len(r.SelectedSourceIDs))
	for _, id := range r.SelectedSourceIDs {
		if _, ok := permitted[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SearchScope is the eligible selection, or every permitted source when
// nothing is selected.
func (r Request) SearchScope() []string {
	if r.HasSelection() {
		return r.EligibleSourceIDs()
	}
	out := make([]string, len(r.PermittedSourceIDs))
	copy(out, r.PermittedSourceIDs)
	return out
}
