// Package storetest provides a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, time.February, 22, 16, 40, 0, 0, time.UTC)

// Run exercises the Store contract against the implementation built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and get round trip", func(t *testing.T) {
		s := newStore(t)
		in := engine.NewGameRecord("game-1", "alice", true, base)

		id, err := s.Create(ctx, in)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if id != "game-1" {
			t.Fatalf("id = %q, want %q", id, "game-1")
		}

		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Player(engine.Slot1) != "alice" {
			t.Fatalf("slot1 = %q, want alice", got.Player(engine.Slot1))
		}
		if !got.Private {
			t.Fatal("expected private game")
		}
		if got.Status != engine.StatusOpen {
			t.Fatalf("status = %s, want OPEN", got.Status)
		}
		if !got.CreatedAt.Equal(base) {
			t.Fatalf("created_at = %v, want %v", got.CreatedAt, base)
		}
	})

	t.Run("create assigns id", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Create(ctx, engine.NewGameRecord("", "alice", false, base))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if id == "" {
			t.Fatal("expected generated id")
		}
		if _, err := s.Get(ctx, id); err != nil {
			t.Fatalf("get generated id: %v", err)
		}
	})

	t.Run("duplicate create", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Create(ctx, engine.NewGameRecord("dup", "alice", false, base)); err != nil {
			t.Fatalf("create: %v", err)
		}
		_, err := s.Create(ctx, engine.NewGameRecord("dup", "bob", false, base))
		if !errors.Is(err, store.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("save persists board and status", func(t *testing.T) {
		s := newStore(t)
		g := engine.NewGameRecord("game-2", "alice", false, base)
		if _, err := s.Create(ctx, g); err != nil {
			t.Fatalf("create: %v", err)
		}
		g.Seat("bob", base.Add(time.Second))
		if err := g.ApplyMove(1, 2, base.Add(2*time.Second)); err != nil {
			t.Fatalf("apply move: %v", err)
		}
		if err := s.Save(ctx, g); err != nil {
			t.Fatalf("save: %v", err)
		}

		got, err := s.Get(ctx, "game-2")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != engine.StatusInProgress {
			t.Fatalf("status = %s, want IN_PROGRESS", got.Status)
		}
		if got.Player(engine.Slot2) != "bob" {
			t.Fatalf("slot2 = %q, want bob", got.Player(engine.Slot2))
		}
		if got.Board[1][2] != engine.MarkX {
			t.Fatalf("board[1][2] = %q, want X", got.Board[1][2])
		}
		if got.Turn != engine.Slot2 {
			t.Fatalf("turn = %v, want slot 2", got.Turn)
		}
		if got.MoveCount != 1 {
			t.Fatalf("move_count = %d, want 1", got.MoveCount)
		}
	})

	t.Run("save missing", func(t *testing.T) {
		s := newStore(t)
		err := s.Save(ctx, engine.NewGameRecord("ghost", "alice", false, base))
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("returned records are copies", func(t *testing.T) {
		s := newStore(t)
		g := engine.NewGameRecord("game-3", "alice", false, base)
		if _, err := s.Create(ctx, g); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, _ := s.Get(ctx, "game-3")
		got.Seat("bob", base)

		again, _ := s.Get(ctx, "game-3")
		if again.Status != engine.StatusOpen {
			t.Fatal("mutating a returned record must not change the store")
		}
	})

	t.Run("list by status", func(t *testing.T) {
		s := newStore(t)
		for i, id := range []string{"c", "a", "b"} {
			g := engine.NewGameRecord(id, "p-"+id, false, base.Add(time.Duration(i)*time.Minute))
			if _, err := s.Create(ctx, g); err != nil {
				t.Fatalf("create %s: %v", id, err)
			}
		}
		started, _ := s.Get(ctx, "a")
		started.Seat("zed", base)
		if err := s.Save(ctx, started); err != nil {
			t.Fatalf("save: %v", err)
		}

		open, err := s.ListByStatus(ctx, engine.StatusOpen)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(open) != 2 {
			t.Fatalf("len(open) = %d, want 2", len(open))
		}
		if open[0].ID != "c" || open[1].ID != "b" {
			t.Fatalf("order = [%s %s], want [c b]", open[0].ID, open[1].ID)
		}

		inProgress, err := s.ListByStatus(ctx, engine.StatusInProgress)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(inProgress) != 1 || inProgress[0].ID != "a" {
			t.Fatalf("unexpected in-progress list: %+v", inProgress)
		}
	})

	t.Run("rejects invalid record", func(t *testing.T) {
		s := newStore(t)
		bad := engine.NewGameRecord("bad", "", false, base)
		if _, err := s.Create(ctx, bad); !errors.Is(err, store.ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := s.Get(cctx, "x"); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("concurrent creates", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Create(ctx, engine.NewGameRecord("", "alice", false, base)); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent create: %v", err)
		}

		open, err := s.ListByStatus(ctx, engine.StatusOpen)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(open) != 20 {
			t.Fatalf("len(open) = %d, want 20", len(open))
		}
	})
}
