// Package store defines the persistence contract for game records and the
// in-memory and JSON-file backends.
package store

import (
	"context"
	"errors"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

var (
	// ErrNotFound indicates a requested game record is missing.
	ErrNotFound = errors.New("game not found")
	// ErrAlreadyExists indicates a game with the same id was already created.
	ErrAlreadyExists = errors.New("game already exists")
	// ErrInvalidRecord indicates a record that cannot be stored.
	ErrInvalidRecord = errors.New("invalid game record")
)

// Store persists game records. Implementations return copies; callers own the
// returned records and must Save to publish a change.
type Store interface {
	// Create inserts a new record and returns its id. An empty id is assigned.
	Create(ctx context.Context, game *engine.GameRecord) (string, error)
	Get(ctx context.Context, id string) (*engine.GameRecord, error)
	// Save replaces an existing record atomically.
	Save(ctx context.Context, game *engine.GameRecord) error
	ListByStatus(ctx context.Context, status engine.Status) ([]*engine.GameRecord, error)
}

func validate(game *engine.GameRecord) error {
	if game == nil {
		return ErrInvalidRecord
	}
	if err := game.CheckInvariants(); err != nil {
		return errors.Join(ErrInvalidRecord, err)
	}
	return nil
}
