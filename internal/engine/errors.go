package engine

import "fmt"

// ErrorKind classifies failures reported to the front end.
type ErrorKind int

const (
	// ConfigError leaves the engine NotRunning.
	ConfigError ErrorKind = iota
	RemoteCallError
	ParseError
	BufferOverflowError
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigError:
		return "config"
	case RemoteCallError:
		return "remote_call"
	case ParseError:
		return "parse"
	case BufferOverflowError:
		return "buffer_overflow"
	default:
		return "unknown"
	}
}

// TurnError is what the engine reports through the outbound mailbox.
type TurnError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *TurnError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s (%v)", e.Msg, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Messages shown to the user.
const (
	msgNotRunning      = "Chat is not running. Please check the configuration."
	msgCompletion      = "Failed to send chat to LLM."
	msgCompletionParse = "Failed to parse LLM response."
	msgVoice           = "Failed to get voice character from Reecho."
	msgNoPrompts       = "Voice character has no prompts. Please add emotion voice prompt in reecho.ai"
	msgSynthesis       = "Failed to synthesis voice."
	msgStream          = "Failed to fetch synthesized voice."
	msgOverflow        = "Synthesized voice is too long for the playback buffer."
	msgHistoryParse    = "Failed to parse chat history! Resetting to default."
)
