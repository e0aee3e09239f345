package command

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnknownRequestID is reported when the request id cannot be recovered
const UnknownRequestID = "unknown"

// Reason codes for payloads that cannot be decoded
const (
	ReasonMalformedPayload = "malformed_payload"
	ReasonUnknownAction    = "unknown_action"
	ReasonMissingField     = "missing_field"
	ReasonInvalidField     = "invalid_field"
)

// ParseFailure describes why a payload was not a valid command
type ParseFailure struct {
	RequestID string
	Action    string
	Reason    string
	Field     string
}

func (f *ParseFailure) Error() string {
	if f.Field != "" {
		return fmt.Sprintf("request %s: %s: %s", f.RequestID, f.Reason, f.Field)
	}
	return fmt.Sprintf("request %s: %s", f.RequestID, f.Reason)
}

// Detail returns a short human-readable explanation
func (f *ParseFailure) Detail() string {
	if f.Field != "" {
		return fmt.Sprintf("%s: %s", f.Reason, f.Field)
	}
	return f.Reason
}

// fields is a decoded JSON object with null values treated as absent
type fields map[string]json.RawMessage

func (f fields) raw(name string) (json.RawMessage, bool) {
	v, ok := f[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

// Decode parses an untrusted payload. Every failure is a *ParseFailure.
func Decode(payload []byte) (Command, error) {
	var obj fields
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return nil, &ParseFailure{RequestID: UnknownRequestID, Reason: ReasonMalformedPayload}
	}

	failure := &ParseFailure{RequestID: UnknownRequestID}
	requestID, reqErr := obj.requiredString("requestId")
	if reqErr == "" {
		failure.RequestID = requestID
	}
	action, actErr := obj.requiredString("action")
	if actErr == "" {
		failure.Action = action
	}

	fail := func(reason, field string) (Command, error) {
		failure.Reason = reason
		failure.Field = field
		return nil, failure
	}

	if reqErr != "" {
		return fail(reqErr, "requestId")
	}
	clientID, cliErr := obj.requiredString("clientId")
	if cliErr != "" {
		return fail(cliErr, "clientId")
	}
	if actErr != "" {
		return fail(actErr, "action")
	}
	if !Action(action).Known() {
		return fail(ReasonUnknownAction, "action")
	}

	h := Header{RequestID: requestID, ClientID: clientID, Action: Action(action)}

	switch h.Action {
	case ActionCreateGame:
		private, reason := obj.optionalBool("isGamePrivate")
		if reason != "" {
			return fail(reason, "isGamePrivate")
		}
		return CreateGame{Header: h, Private: private}, nil

	case ActionListOpenGames:
		return ListOpenGames{Header: h}, nil

	case ActionJoinGame, ActionQuitGame:
		gameID, reason := obj.requiredString("gameId")
		if reason != "" {
			return fail(reason, "gameId")
		}
		if h.Action == ActionJoinGame {
			return JoinGame{Header: h, GameID: gameID}, nil
		}
		return QuitGame{Header: h, GameID: gameID}, nil

	case ActionUpdateGame:
		gameID, reason := obj.requiredString("gameId")
		if reason != "" {
			return fail(reason, "gameId")
		}
		row, reason := obj.requiredInt("row")
		if reason != "" {
			return fail(reason, "row")
		}
		column, reason := obj.requiredInt("column")
		if reason != "" {
			return fail(reason, "column")
		}
		return UpdateGame{Header: h, GameID: gameID, Row: row, Column: column}, nil
	}

	return fail(ReasonUnknownAction, "action")
}

// requiredString returns the value or the reason it is unusable
func (f fields) requiredString(name string) (string, string) {
	raw, ok := f.raw(name)
	if !ok {
		return "", ReasonMissingField
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", ReasonInvalidField
	}
	if s == "" {
		return "", ReasonMissingField
	}
	return s, ""
}

func (f fields) requiredInt(name string) (int, string) {
	raw, ok := f.raw(name)
	if !ok {
		return 0, ReasonMissingField
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, ReasonInvalidField
	}
	return n, ""
}

func (f fields) optionalBool(name string) (bool, string) {
	raw, ok := f.raw(name)
	if !ok {
		return false, ""
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, ReasonInvalidField
	}
	return b, ""
}
