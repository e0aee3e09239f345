package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

var (
	// ErrConflict means a transition observed state that per-game exclusivity
	// should have made impossible. It is an internal fault, not a user error.
	ErrConflict = errors.New("concurrent modification conflict")
	// ErrInvalidClient is returned for an empty client id.
	ErrInvalidClient = errors.New("client id is required")
)

// Reason is a machine-readable rejection code sent to clients
type Reason string

const (
	ReasonGameNotFound Reason = "game_not_found"
	ReasonGameNotOpen  Reason = "game_not_open"
	ReasonSlotFilled   Reason = "slot_filled"
	ReasonSelfJoin     Reason = "self_join"
	ReasonWrongState   Reason = "wrong_state"
	ReasonWrongTurn    Reason = "wrong_turn"
	ReasonIllegalCell  Reason = "illegal_cell"
	ReasonGameOver     Reason = "game_over"
	ReasonNotAPlayer   Reason = "not_a_player"
)

// Rejection is an illegal transition; the game state is unchanged
type Rejection struct {
	Reason Reason
	GameID string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("game %s: rejected: %s", r.GameID, r.Reason)
}

func reject(reason Reason, gameID string) error {
	return &Rejection{Reason: reason, GameID: gameID}
}

// RejectionReason extracts the reason from a rejection error
func RejectionReason(err error) (Reason, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}

// CommitFunc runs inside the game's exclusivity window after the new state is
// saved. It must not block on network I/O.
type CommitFunc func(game *engine.GameRecord)

// GameService defines the game session state machine
type GameService interface {
	Create(ctx context.Context, creatorID string, private bool, onCommit CommitFunc) (*engine.GameRecord, error)
	Join(ctx context.Context, gameID, joinerID string, onCommit CommitFunc) (*engine.GameRecord, error)
	ListOpen(ctx context.Context) ([]*engine.GameRecord, error)
	Update(ctx context.Context, gameID, byClientID string, row, column int, onCommit CommitFunc) (*engine.GameRecord, error)
	Quit(ctx context.Context, gameID, byClientID string, onCommit CommitFunc) (*engine.GameRecord, error)
	Get(ctx context.Context, gameID string) (*engine.GameRecord, error)
}
