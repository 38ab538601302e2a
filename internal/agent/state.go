package agent

// OrchestrationState is the mutable state of one generate call. It is owned
// by a single Run and never shared between calls.
type OrchestrationState struct {
	Turns         []Turn
	Continuations int
	ToolRounds    int
	FileIDs       []string
	Text          string
	Calls         int
	Usage         Usage

	seenFiles map[string]bool
}

// NewOrchestrationState seeds the state with the initial transcript.
func NewOrchestrationState(turns []Turn) *OrchestrationState {
	s := &OrchestrationState{
		Turns:     make([]Turn, 0, len(turns)+4),
		seenFiles: make(map[string]bool),
	}
	s.Turns = append(s.Turns, turns...)
	return s
}

// Observe records one driver response: the latest text replaces the previous
// best text and file identifiers accumulate without duplicates.
func (s *OrchestrationState) Observe(resp *StreamResponse) {
	s.Calls++
	s.Text = resp.Text()
	s.Usage.Add(resp.Usage)
	for _, id := range resp.FileIDs() {
		if id == "" || s.seenFiles[id] {
			continue
		}
		s.seenFiles[id] = true
		s.FileIDs = append(s.FileIDs, id)
	}
}

// Append adds turns to the transcript. Turns are never removed.
func (s *OrchestrationState) Append(turns ...Turn) {
	s.Turns = append(s.Turns, turns...)
}

// assistantTurn mirrors a response back as an assistant turn.
func assistantTurn(resp *StreamResponse) Turn {
	blocks := make([]ContentBlock, len(resp.Content))
	copy(blocks, resp.Content)
	return Turn{Role: RoleAssistant, Blocks: blocks}
}

// closingAssistantTurn mirrors a response without client tool calls, for
// turns that will not be followed by tool results. ok is false when
// nothing remains to send.
func closingAssistantTurn(resp *StreamResponse) (Turn, bool) {
	blocks := make([]ContentBlock, 0, len(resp.Content))
	for _, b := range resp.Content {
		if b.Type == BlockToolUse {
			continue
		}
		blocks = append(blocks, b)
	}
	return Turn{Role: RoleAssistant, Blocks: blocks}, len(blocks) > 0
}
