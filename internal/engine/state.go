package engine

// State is whether the engine currently accepts chat turns.
type State int

const (
	StateNotRunning State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "not_running"
}

// Display is the read-only copy of the conversation the front end renders.
type Display struct {
	SystemPrompt string `json:"system_prompt"`
	Transcript   string `json:"transcript"`
}
