package command

import (
	"encoding/json"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

// ReasonInternalError is reported when the server failed rather than the request
const ReasonInternalError = "internal_error"

// Response is the outbound message shape for replies and broadcasts
type Response struct {
	RequestID string            `json:"requestId"`
	Action    string            `json:"action"`
	OK        bool              `json:"ok"`
	Reason    string            `json:"reason,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Game      *engine.Summary   `json:"game,omitempty"`
	Games     *[]engine.Summary `json:"games,omitempty"`
}

// GameList returns the listed games, nil when the response carries no list
func (r Response) GameList() []engine.Summary {
	if r.Games == nil {
		return nil
	}
	return *r.Games
}

// OK builds a successful response carrying one game
func OK(h Header, game *engine.GameRecord) Response {
	resp := Response{RequestID: h.RequestID, Action: string(h.Action), OK: true}
	if game != nil {
		s := game.Summary()
		resp.Game = &s
	}
	return resp
}

// List builds a successful response carrying a list of games
func List(h Header, games []*engine.GameRecord) Response {
	resp := Response{RequestID: h.RequestID, Action: string(h.Action), OK: true}
	summaries := make([]engine.Summary, 0, len(games))
	for _, g := range games {
		summaries = append(summaries, g.Summary())
	}
	resp.Games = &summaries
	return resp
}

// Rejected builds a failed response with a reason code
func Rejected(h Header, reason string) Response {
	return Response{RequestID: h.RequestID, Action: string(h.Action), OK: false, Reason: reason}
}

// Failure builds the response for an undecodable payload
func Failure(f *ParseFailure) Response {
	return Response{
		RequestID: f.RequestID,
		Action:    f.Action,
		OK:        false,
		Reason:    f.Reason,
		Detail:    f.Detail(),
	}
}

// Encode marshals a response
func Encode(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}
