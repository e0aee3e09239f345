package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

// MemoryStore keeps game records in a map
type MemoryStore struct {
	games map[string]*engine.GameRecord
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games: make(map[string]*engine.GameRecord),
	}
}

// Create inserts a copy of game
func (s *MemoryStore) Create(ctx context.Context, game *engine.GameRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validate(game); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := game.Clone()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if _, exists := s.games[rec.ID]; exists {
		return "", ErrAlreadyExists
	}
	s.games[rec.ID] = rec
	return rec.ID, nil
}

// Get returns a copy of the record
func (s *MemoryStore) Get(ctx context.Context, id string) (*engine.GameRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.games[id]
	if !exists {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Save replaces the stored record
func (s *MemoryStore) Save(ctx context.Context, game *engine.GameRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(game); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.games[game.ID]; !exists {
		return ErrNotFound
	}
	s.games[game.ID] = game.Clone()
	return nil
}

// ListByStatus returns copies of every record in the given status, oldest first
func (s *MemoryStore) ListByStatus(ctx context.Context, status engine.Status) ([]*engine.GameRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	result := make([]*engine.GameRecord, 0)
	for _, rec := range s.games {
		if rec.Status == status {
			result = append(result, rec.Clone())
		}
	}
	s.mu.RUnlock()

	SortByCreation(result)
	return result, nil
}

// Count returns the number of stored records
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games)
}

// SortByCreation orders records by creation time, then id
func SortByCreation(games []*engine.GameRecord) {
	sort.Slice(games, func(i, j int) bool {
		if !games[i].CreatedAt.Equal(games[j].CreatedAt) {
			return games[i].CreatedAt.Before(games[j].CreatedAt)
		}
		return games[i].ID < games[j].ID
	})
}

var _ Store = (*MemoryStore)(nil)
