// Package mailbox carries commands between the chat engine and its front end.
package mailbox

import "sync"

// Kind identifies a command.
type Kind int

const (
	Stop Kind = iota
	Error
	Chat
	SetSystemPrompt
	ClearHistory
	ReloadConfig
)

func (k Kind) String() string {
	switch k {
	case Stop:
		return "stop"
	case Error:
		return "error"
	case Chat:
		return "chat"
	case SetSystemPrompt:
		return "set_system_prompt"
	case ClearHistory:
		return "clear_history"
	case ReloadConfig:
		return "reload_config"
	default:
		return "unknown"
	}
}

// ParseKind maps the wire name of a command back to its Kind.
func ParseKind(s string) (Kind, bool) {
	for k := Stop; k <= ReloadConfig; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Command is a single message. It is passed by value.
type Command struct {
	Kind    Kind
	Payload string
}

// Mailbox is an unbounded FIFO queue safe for concurrent use.
// Send never blocks; TryReceive never waits for a command to arrive.
type Mailbox struct {
	mu    sync.Mutex
	queue []Command
	head  int
}

func New() *Mailbox {
	return &Mailbox{}
}

// Send enqueues cmd.
func (m *Mailbox) Send(cmd Command) {
	m.mu.Lock()
	m.queue = append(m.queue, cmd)
	m.mu.Unlock()
}

// TryReceive pops the oldest command, or reports false when the mailbox is empty.
func (m *Mailbox) TryReceive() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.head == len(m.queue) {
		return Command{}, false
	}
	cmd := m.queue[m.head]
	m.queue[m.head] = Command{}
	m.head++

	// compact once the consumed prefix dominates
	if m.head == len(m.queue) {
		m.queue = m.queue[:0]
		m.head = 0
	} else if m.head > 64 && m.head*2 > len(m.queue) {
		n := copy(m.queue, m.queue[m.head:])
		m.queue = m.queue[:n]
		m.head = 0
	}
	return cmd, true
}

// Len returns the number of pending commands.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) - m.head
}
