// Package sqlite provides a SQLite-backed game store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/store"
	"github.com/wricardo/mcp-training/tictactoe/game/store/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists game records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

const gameColumns = `id, private, slot1, slot2, board, turn, status, outcome, quit_by, move_count, created_at, updated_at`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite game store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; per-game exclusivity lives above the store.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create inserts one game record.
func (s *Store) Create(ctx context.Context, game *engine.GameRecord) (string, error) {
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	if err := checkRecord(game); err != nil {
		return "", err
	}
	rec := game.Clone()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO games (`+gameColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		boolToInt(rec.Private),
		rec.Players[0],
		rec.Players[1],
		encodeBoard(rec.Board),
		int(rec.Turn),
		string(rec.Status),
		string(rec.Outcome),
		rec.QuitBy,
		rec.MoveCount,
		toMillis(rec.CreatedAt),
		toMillis(rec.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrAlreadyExists
		}
		return "", fmt.Errorf("create game: %w", err)
	}
	return rec.ID, nil
}

// Get returns one game record by id.
func (s *Store) Get(ctx context.Context, id string) (*engine.GameRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, id)
	rec, err := scanGame(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get game: %w", err)
	}
	return rec, nil
}

// Save replaces an existing game record.
func (s *Store) Save(ctx context.Context, game *engine.GameRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := checkRecord(game); err != nil {
		return err
	}

	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE games
		    SET private = ?, slot1 = ?, slot2 = ?, board = ?, turn = ?, status = ?,
		        outcome = ?, quit_by = ?, move_count = ?, updated_at = ?
		  WHERE id = ?`,
		boolToInt(game.Private),
		game.Players[0],
		game.Players[1],
		encodeBoard(game.Board),
		int(game.Turn),
		string(game.Status),
		string(game.Outcome),
		game.QuitBy,
		game.MoveCount,
		toMillis(game.UpdatedAt),
		game.ID,
	)
	if err != nil {
		return fmt.Errorf("save game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save game: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListByStatus returns every game in status ordered by creation time.
func (s *Store) ListByStatus(ctx context.Context, status engine.Status) ([]*engine.GameRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+gameColumns+`
		   FROM games
		  WHERE status = ?
		  ORDER BY created_at ASC, id ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	result := make([]*engine.GameRecord, 0)
	for rows.Next() {
		rec, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("list games: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return result, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(row scanner) (*engine.GameRecord, error) {
	var (
		rec       engine.GameRecord
		private   int
		board     string
		turn      int
		status    string
		outcome   string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&rec.ID,
		&private,
		&rec.Players[0],
		&rec.Players[1],
		&board,
		&turn,
		&status,
		&outcome,
		&rec.QuitBy,
		&rec.MoveCount,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	b, err := decodeBoard(board)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", rec.ID, err)
	}
	rec.Board = b
	rec.Private = private != 0
	rec.Turn = engine.Slot(turn)
	rec.Status = engine.Status(status)
	rec.Outcome = engine.Outcome(outcome)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

func checkRecord(game *engine.GameRecord) error {
	if game == nil {
		return store.ErrInvalidRecord
	}
	if err := game.CheckInvariants(); err != nil {
		return errors.Join(store.ErrInvalidRecord, err)
	}
	return nil
}

// encodeBoard writes the board row-major, '.' for an empty cell.
func encodeBoard(b engine.Board) string {
	var sb strings.Builder
	for _, row := range b {
		for _, cell := range row {
			if cell == engine.Empty {
				sb.WriteByte('.')
			} else {
				sb.WriteString(string(cell))
			}
		}
	}
	return sb.String()
}

func decodeBoard(value string) (engine.Board, error) {
	var b engine.Board
	if len(value) != engine.BoardSize*engine.BoardSize {
		return b, fmt.Errorf("board has %d cells", len(value))
	}
	for i := 0; i < len(value); i++ {
		var m engine.Mark
		switch value[i] {
		case '.':
			m = engine.Empty
		case 'X':
			m = engine.MarkX
		case 'O':
			m = engine.MarkO
		default:
			return b, fmt.Errorf("board cell %d: unknown mark %q", i, value[i])
		}
		b[i/engine.BoardSize][i%engine.BoardSize] = m
	}
	return b, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "games.id")
}

var _ store.Store = (*Store)(nil)
