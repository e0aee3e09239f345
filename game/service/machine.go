package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/store"
)

// Machine implements GameService on top of a store, serializing every
// read-then-write per game id
type Machine struct {
	store store.Store
	locks *lockTable
	now   func() time.Time
	newID func() string
}

// Option configures a Machine
type Option func(*Machine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithIDGenerator overrides game id generation
func WithIDGenerator(newID func() string) Option {
	return func(m *Machine) { m.newID = newID }
}

// NewMachine creates a new game session machine
func NewMachine(games store.Store, opts ...Option) *Machine {
	m := &Machine{
		store: games,
		locks: newLockTable(),
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a new game with the creator in slot 1
func (m *Machine) Create(ctx context.Context, creatorID string, private bool, onCommit CommitFunc) (*engine.GameRecord, error) {
	if creatorID == "" {
		return nil, ErrInvalidClient
	}

	id := m.newID()
	unlock := m.locks.Lock(id)
	defer unlock()

	game := engine.NewGameRecord(id, creatorID, private, m.now())
	if _, err := m.store.Create(ctx, game); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: game id %s reused", ErrConflict, id)
		}
		return nil, fmt.Errorf("failed to create game: %w", err)
	}

	if onCommit != nil {
		onCommit(game.Clone())
	}
	return game, nil
}

// Join binds the second slot and starts the game
func (m *Machine) Join(ctx context.Context, gameID, joinerID string, onCommit CommitFunc) (*engine.GameRecord, error) {
	if joinerID == "" {
		return nil, ErrInvalidClient
	}

	return m.transition(ctx, gameID, func(game *engine.GameRecord) error {
		switch game.Status {
		case engine.StatusOpen:
		case engine.StatusInProgress:
			return reject(ReasonSlotFilled, gameID)
		default:
			return reject(ReasonGameNotOpen, gameID)
		}
		if game.Player(engine.Slot1) == joinerID {
			return reject(ReasonSelfJoin, gameID)
		}
		if game.Player(engine.Slot2) != "" {
			return reject(ReasonSlotFilled, gameID)
		}
		game.Seat(joinerID, m.now())
		return nil
	}, onCommit)
}

// ListOpen returns public games awaiting a second player, read from the store
// at call time
func (m *Machine) ListOpen(ctx context.Context) ([]*engine.GameRecord, error) {
	games, err := m.store.ListByStatus(ctx, engine.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list open games: %w", err)
	}

	result := make([]*engine.GameRecord, 0, len(games))
	for _, game := range games {
		if game.Private || game.Status != engine.StatusOpen {
			continue
		}
		result = append(result, game)
	}
	return result, nil
}

// Update applies a move for the client owning the current turn
func (m *Machine) Update(ctx context.Context, gameID, byClientID string, row, column int, onCommit CommitFunc) (*engine.GameRecord, error) {
	return m.transition(ctx, gameID, func(game *engine.GameRecord) error {
		if game.Status != engine.StatusInProgress {
			return reject(ReasonWrongState, gameID)
		}
		if slot := game.SlotOf(byClientID); slot == engine.NoSlot || slot != game.Turn {
			return reject(ReasonWrongTurn, gameID)
		}
		if err := game.ApplyMove(row, column, m.now()); err != nil {
			if errors.Is(err, engine.ErrOutOfBounds) || errors.Is(err, engine.ErrCellOccupied) {
				return reject(ReasonIllegalCell, gameID)
			}
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil
	}, onCommit)
}

// Quit ends an open or in-progress game on behalf of a slot holder
func (m *Machine) Quit(ctx context.Context, gameID, byClientID string, onCommit CommitFunc) (*engine.GameRecord, error) {
	return m.transition(ctx, gameID, func(game *engine.GameRecord) error {
		if game.Status.Terminal() {
			return reject(ReasonGameOver, gameID)
		}
		if err := game.Abandon(byClientID, m.now()); err != nil {
			return reject(ReasonNotAPlayer, gameID)
		}
		return nil
	}, onCommit)
}

// Get returns the current state of a game
func (m *Machine) Get(ctx context.Context, gameID string) (*engine.GameRecord, error) {
	game, err := m.store.Get(ctx, gameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject(ReasonGameNotFound, gameID)
		}
		return nil, fmt.Errorf("failed to load game %s: %w", gameID, err)
	}
	return game, nil
}

// transition loads, mutates, validates and saves one game under its lock
func (m *Machine) transition(ctx context.Context, gameID string, mutate func(*engine.GameRecord) error, onCommit CommitFunc) (*engine.GameRecord, error) {
	if gameID == "" {
		return nil, reject(ReasonGameNotFound, gameID)
	}

	unlock := m.locks.Lock(gameID)
	defer unlock()

	game, err := m.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}

	if err := mutate(game); err != nil {
		return nil, err
	}
	if err := game.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}

	if err := m.store.Save(ctx, game); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: game %s vanished during transition", ErrConflict, gameID)
		}
		return nil, fmt.Errorf("failed to save game %s: %w", gameID, err)
	}

	if onCommit != nil {
		onCommit(game.Clone())
	}
	return game, nil
}

var _ GameService = (*Machine)(nil)
