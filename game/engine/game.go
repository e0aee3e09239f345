package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotInProgress = errors.New("game is not in progress")
	ErrNotPlayer     = errors.New("client does not occupy a slot")
)

// Slot identifies one of the two player positions
type Slot int

const (
	NoSlot Slot = iota
	Slot1
	Slot2
)

// Mark returns the mark placed by the slot
func (s Slot) Mark() Mark {
	switch s {
	case Slot1:
		return MarkX
	case Slot2:
		return MarkO
	}
	return Empty
}

// Other returns the opposing slot
func (s Slot) Other() Slot {
	switch s {
	case Slot1:
		return Slot2
	case Slot2:
		return Slot1
	}
	return NoSlot
}

// Status is the lifecycle state of a game
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
	StatusQuit       Status = "QUIT"
)

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusQuit
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusFinished, StatusQuit:
		return true
	}
	return false
}

// Outcome is the declared result of a finished game
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeWinnerSlot1 Outcome = "WINNER_SLOT_1"
	OutcomeWinnerSlot2 Outcome = "WINNER_SLOT_2"
	OutcomeDraw        Outcome = "DRAW"
)

// GameRecord is the full state of one game
type GameRecord struct {
	ID        string    `json:"id"`
	Private   bool      `json:"private"`
	Players   [2]string `json:"players"`
	Board     Board     `json:"board"`
	Turn      Slot      `json:"turn"`
	Status    Status    `json:"status"`
	Outcome   Outcome   `json:"outcome,omitempty"`
	QuitBy    string    `json:"quit_by,omitempty"`
	MoveCount int       `json:"move_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewGameRecord creates an open game with the creator in slot 1
func NewGameRecord(id, creatorID string, private bool, now time.Time) *GameRecord {
	return &GameRecord{
		ID:        id,
		Private:   private,
		Players:   [2]string{creatorID, ""},
		Turn:      Slot1,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns an independent copy
func (g *GameRecord) Clone() *GameRecord {
	if g == nil {
		return nil
	}
	c := *g
	return &c
}

// Player returns the client bound to a slot, "" when empty
func (g *GameRecord) Player(s Slot) string {
	switch s {
	case Slot1:
		return g.Players[0]
	case Slot2:
		return g.Players[1]
	}
	return ""
}

// SlotOf returns the slot held by clientID or NoSlot
func (g *GameRecord) SlotOf(clientID string) Slot {
	if clientID == "" {
		return NoSlot
	}
	switch clientID {
	case g.Players[0]:
		return Slot1
	case g.Players[1]:
		return Slot2
	}
	return NoSlot
}

// BoundPlayers returns the non-empty slot holders in slot order
func (g *GameRecord) BoundPlayers() []string {
	out := make([]string, 0, 2)
	for _, p := range g.Players {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TurnOwner returns the client whose turn it is, "" when nobody may move
func (g *GameRecord) TurnOwner() string {
	if g.Status != StatusInProgress {
		return ""
	}
	return g.Player(g.Turn)
}

// Seat binds the second player and starts the game with slot 1 to move
func (g *GameRecord) Seat(joinerID string, now time.Time) {
	g.Players[1] = joinerID
	g.Status = StatusInProgress
	g.Turn = Slot1
	g.UpdatedAt = now
}

// ApplyMove places the current turn's mark and resolves win, draw or turn flip
func (g *GameRecord) ApplyMove(row, column int, now time.Time) error {
	if g.Status != StatusInProgress {
		return ErrNotInProgress
	}
	move := Move{Row: row, Column: column, Mark: g.Turn.Mark()}
	if err := g.Board.Place(move); err != nil {
		return err
	}
	g.MoveCount++
	g.UpdatedAt = now

	if mark, ok := g.Board.Winner(); ok {
		g.Status = StatusFinished
		if mark == MarkX {
			g.Outcome = OutcomeWinnerSlot1
		} else {
			g.Outcome = OutcomeWinnerSlot2
		}
		return nil
	}
	if g.Board.Full() {
		g.Status = StatusFinished
		g.Outcome = OutcomeDraw
		return nil
	}
	g.Turn = g.Turn.Other()
	return nil
}

// Abandon marks the game quit by clientID
func (g *GameRecord) Abandon(clientID string, now time.Time) error {
	if g.SlotOf(clientID) == NoSlot {
		return ErrNotPlayer
	}
	g.Status = StatusQuit
	g.QuitBy = clientID
	g.UpdatedAt = now
	return nil
}

// CheckInvariants verifies board balance, slot binding and status consistency
func (g *GameRecord) CheckInvariants() error {
	x, o := g.Board.Count(MarkX), g.Board.Count(MarkO)
	if x-o < 0 || x-o > 1 {
		return fmt.Errorf("unbalanced board: %d X, %d O", x, o)
	}
	if g.Players[0] == "" {
		return fmt.Errorf("slot 1 is not bound")
	}
	if !g.Status.Valid() {
		return fmt.Errorf("unknown status %q", g.Status)
	}
	if g.Status == StatusInProgress && g.Players[1] == "" {
		return fmt.Errorf("game in progress with empty slot 2")
	}
	if g.Status == StatusFinished && g.Outcome == OutcomeNone {
		return fmt.Errorf("finished game without outcome")
	}
	return nil
}

// Summary is the wire view of a game record
type Summary struct {
	GameID    string                       `json:"gameId"`
	Status    Status                       `json:"status"`
	Outcome   Outcome                      `json:"outcome,omitempty"`
	Board     [BoardSize][BoardSize]string `json:"board"`
	Slot1     string                       `json:"slot1"`
	Slot2     *string                      `json:"slot2"`
	Turn      *string                      `json:"turn"`
	IsPrivate bool                         `json:"isPrivate"`
	QuitBy    string                       `json:"quitBy,omitempty"`
	MoveCount int                          `json:"moveCount"`
}

// Summary builds the wire view
func (g *GameRecord) Summary() Summary {
	s := Summary{
		GameID:    g.ID,
		Status:    g.Status,
		Outcome:   g.Outcome,
		Board:     g.Board.Snapshot(),
		Slot1:     g.Players[0],
		IsPrivate: g.Private,
		QuitBy:    g.QuitBy,
		MoveCount: g.MoveCount,
	}
	if p := g.Players[1]; p != "" {
		s.Slot2 = &p
	}
	if owner := g.TurnOwner(); owner != "" {
		s.Turn = &owner
	}
	return s
}
