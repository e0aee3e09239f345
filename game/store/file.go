package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

// FileStore implements Store using one JSON file per game
type FileStore struct {
	gamesDir string
	mu       sync.RWMutex
}

// persistedGame is the on-disk layout of a game file
type persistedGame struct {
	Version int                `json:"version"`
	Game    *engine.GameRecord `json:"game"`
}

const fileFormatVersion = 1

// NewFileStore creates a file-based store rooted at gamesDir
func NewFileStore(gamesDir string) (*FileStore, error) {
	if strings.TrimSpace(gamesDir) == "" {
		return nil, fmt.Errorf("games directory is required")
	}
	// Create games directory if it doesn't exist
	if err := os.MkdirAll(gamesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create games directory: %w", err)
	}

	return &FileStore{gamesDir: gamesDir}, nil
}

// Create writes a new game file
func (fs *FileStore) Create(ctx context.Context, game *engine.GameRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validate(game); err != nil {
		return "", err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec := game.Clone()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if !validID(rec.ID) {
		return "", fmt.Errorf("%w: id %q", ErrInvalidRecord, rec.ID)
	}
	if fs.exists(rec.ID) {
		return "", ErrAlreadyExists
	}
	if err := fs.write(rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Get reads a game file
func (fs *FileStore) Get(ctx context.Context, id string) (*engine.GameRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, ErrNotFound
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	return fs.read(id)
}

// Save overwrites an existing game file
func (fs *FileStore) Save(ctx context.Context, game *engine.GameRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(game); err != nil {
		return err
	}
	if !validID(game.ID) {
		return ErrNotFound
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.exists(game.ID) {
		return ErrNotFound
	}
	return fs.write(game)
}

// ListByStatus scans the directory for games in the given status
func (fs *FileStore) ListByStatus(ctx context.Context, status engine.Status) ([]*engine.GameRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.gamesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read games directory: %w", err)
	}

	result := make([]*engine.GameRecord, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		rec, err := fs.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if rec.Status == status {
			result = append(result, rec)
		}
	}

	SortByCreation(result)
	return result, nil
}

func (fs *FileStore) read(id string) (*engine.GameRecord, error) {
	jsonData, err := os.ReadFile(fs.getFilePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read game file: %w", err)
	}

	var data persistedGame
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game %s: %w", id, err)
	}
	if data.Game == nil {
		return nil, fmt.Errorf("game file %s has no game", id)
	}
	return data.Game, nil
}

// write replaces the file through a rename so readers never see a partial record
func (fs *FileStore) write(game *engine.GameRecord) error {
	jsonData, err := json.MarshalIndent(persistedGame{Version: fileFormatVersion, Game: game}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal game data: %w", err)
	}

	tmp, err := os.CreateTemp(fs.gamesDir, ".game-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write game file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close game file: %w", err)
	}
	if err := os.Rename(tmpPath, fs.getFilePath(game.ID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace game file: %w", err)
	}
	return nil
}

func (fs *FileStore) exists(id string) bool {
	_, err := os.Stat(fs.getFilePath(id))
	return err == nil
}

// getFilePath returns the full file path for a game ID
func (fs *FileStore) getFilePath(id string) string {
	return filepath.Join(fs.gamesDir, fmt.Sprintf("%s.json", id))
}

// validID rejects ids that could escape the games directory
func validID(id string) bool {
	if id == "" || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

var _ Store = (*FileStore)(nil)
