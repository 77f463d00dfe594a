package chat

import "github.com/andy6609/termtalk/internal/protocol"

// Token identifies a session for its lifetime.
type Token uint64

type EventKind int

const (
	EventJoin EventKind = iota
	EventChat
	EventLeave
	EventUserList
)

func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventChat:
		return "chat"
	case EventLeave:
		return "leave"
	case EventUserList:
		return "userlist"
	default:
		return "unknown"
	}
}

// Event is one chat notice. Once published it is shared read-only by every
// subscription.
type Event struct {
	Kind  EventKind
	Name  string
	Text  string
	Names []string
}

func JoinEvent(name string) Event  { return Event{Kind: EventJoin, Name: name} }
func LeaveEvent(name string) Event { return Event{Kind: EventLeave, Name: name} }

func ChatEvent(name, text string) Event {
	return Event{Kind: EventChat, Name: name, Text: text}
}

func UserListEvent(names []string) Event {
	return Event{Kind: EventUserList, Names: names}
}

// Line renders the event as a protocol line without terminator.
func (e Event) Line() string {
	switch e.Kind {
	case EventJoin:
		return protocol.JoinLine(e.Name)
	case EventChat:
		return protocol.ChatLine(e.Name, e.Text)
	case EventLeave:
		return protocol.LeaveLine(e.Name)
	case EventUserList:
		return protocol.UserListLine(e.Names)
	default:
		return ""
	}
}

var (
	ErrNameTaken        = errorString("username_taken")
	ErrNameInvalid      = errorString("username_invalid")
	ErrBusClosed        = errorString("bus_closed")
	ErrPeerUnresponsive = errorString("peer_unresponsive")
	ErrLoginTimeout     = errorString("login_timeout")
	ErrLineTooLong      = errorString("line_too_long")
)

type errorString string

func (e errorString) Error() string { return string(e) }
