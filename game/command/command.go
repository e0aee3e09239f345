// Package command decodes inbound client payloads into typed commands and
// encodes outbound responses.
package command

// Action is the tag carried by every request
type Action string

const (
	ActionCreateGame    Action = "CREATE_GAME"
	ActionListOpenGames Action = "GET_AVAILABLE_GAMES"
	ActionJoinGame      Action = "JOIN_GAME"
	ActionUpdateGame    Action = "UPDATE_GAME"
	ActionQuitGame      Action = "QUIT_GAME"
)

// Known reports whether a is one of the supported actions
func (a Action) Known() bool {
	switch a {
	case ActionCreateGame, ActionListOpenGames, ActionJoinGame, ActionUpdateGame, ActionQuitGame:
		return true
	}
	return false
}

// Header holds the fields shared by every command
type Header struct {
	RequestID string
	ClientID  string
	Action    Action
}

// Meta returns the command header
func (h Header) Meta() Header { return h }

func (Header) command() {}

// Command is one of CreateGame, ListOpenGames, JoinGame, UpdateGame or QuitGame
type Command interface {
	Meta() Header
	command()
}

type CreateGame struct {
	Header
	Private bool
}

type ListOpenGames struct {
	Header
}

type JoinGame struct {
	Header
	GameID string
}

type UpdateGame struct {
	Header
	GameID string
	Row    int
	Column int
}

type QuitGame struct {
	Header
	GameID string
}
