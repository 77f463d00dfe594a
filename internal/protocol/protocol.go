// Package protocol holds the newline-delimited text protocol spoken between
// the relay and its peers. A line is a frame; there is no other framing.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"
)

const (
	TokenPrefix      = "Your token: "
	NamePrompt       = "Enter your username: "
	NameTaken        = "ERROR: Username is already taken. Please choose a different one."
	NameEmpty        = "ERROR: Username cannot be empty."
	NameInvalid      = "ERROR: Username is not allowed. Please choose a different one."
	NameAccepted     = "SUCCESS: Username accepted."
	ServerPrefix     = "SERVER: "
	Ping             = "PING"
	Pong             = "PONG"
	UserListRequest  = "GET_USERLIST"
	UserListPrefix   = "USERLIST: "
	userListSep      = ","
	joinSuffix       = " has joined the chat!"
	leaveSuffix      = " has left the chat!"
	chatNameTextSep  = ": "
	LineTerminator   = "\n"
	carriageReturnLF = "\r\n"
)

// MaxNameLength bounds a display name in runes.
const MaxNameLength = 16

// ValidName reports whether name can be rendered into every line kind
// without being mistaken for another. Names must not carry the user list
// or chat separators and must not collide with the SERVER and USERLIST
// line heads.
func ValidName(name string) bool {
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return false
	}
	if strings.Contains(name, userListSep) || strings.Contains(name, ":") {
		return false
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return false
	}
	switch name {
	case strings.TrimSuffix(ServerPrefix, chatNameTextSep), strings.TrimSuffix(UserListPrefix, chatNameTextSep):
		return false
	}
	return true
}

// TokenLine renders the greeting sent once on connect.
func TokenLine(token uint64) string {
	return TokenPrefix + strconv.FormatUint(token, 10)
}

// ParseToken extracts the token from a greeting line. Only the last
// whitespace separated field is looked at.
func ParseToken(line string) (uint64, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty token line")
	}
	tk, err := strconv.ParseUint(fields[len(fields)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token %q: %w", line, err)
	}
	return tk, nil
}

func JoinLine(name string) string  { return ServerPrefix + name + joinSuffix }
func LeaveLine(name string) string { return ServerPrefix + name + leaveSuffix }

func ChatLine(name, text string) string { return name + chatNameTextSep + text }

// UserListLine renders the reply to GET_USERLIST.
func UserListLine(names []string) string {
	return UserListPrefix + strings.Join(names, userListSep)
}

// ParseUserList returns the names carried by a USERLIST line and whether
// line was one at all.
func ParseUserList(line string) ([]string, bool) {
	rest, ok := strings.CutPrefix(line, UserListPrefix)
	if !ok {
		// An empty registry renders as "USERLIST: " which TrimSpace turns
		// into "USERLIST:".
		if line == strings.TrimSpace(UserListPrefix) {
			return []string{}, true
		}
		return nil, false
	}
	names := lo.Map(strings.Split(rest, userListSep), func(n string, _ int) string {
		return strings.TrimSpace(n)
	})
	return lo.Compact(names), true
}

// IsServerNotice reports whether line is a join/leave notice.
func IsServerNotice(line string) bool {
	return strings.HasPrefix(line, ServerPrefix)
}

// SplitChatLine splits "<name>: <text>". ok is false for lines without the
// separator.
func SplitChatLine(line string) (name, text string, ok bool) {
	name, text, ok = strings.Cut(line, ":")
	if !ok {
		return "", line, false
	}
	return strings.TrimSpace(name), strings.TrimSpace(text), true
}

// StripPrompt removes a leading name prompt glued to a reply. The prompt is
// written without a terminator, so the peer reads it as the head of the
// next line.
func StripPrompt(line string) string {
	line = strings.TrimSpace(line)
	for {
		rest, ok := strings.CutPrefix(line, NamePrompt)
		if !ok {
			return line
		}
		line = strings.TrimSpace(rest)
	}
}

// Frame appends the line terminator.
func Frame(line string) string {
	return line + LineTerminator
}

// TrimEOL strips a trailing "\n" or "\r\n".
func TrimEOL(line string) string {
	if s, ok := strings.CutSuffix(line, carriageReturnLF); ok {
		return s
	}
	return strings.TrimSuffix(line, LineTerminator)
}
