// Command analyze prints a summary of the games persisted by the server's file
// or sqlite store and checks every record against the game invariants. It
// reports counts per status and outcome, private games, average move count of
// finished games and any record that fails validation. The exit status is
// non-zero when an invalid record is found.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/store"
	"github.com/wricardo/mcp-training/tictactoe/game/store/sqlite"
)

// Report aggregates what was found in a store
type Report struct {
	Total       int
	ByStatus    map[engine.Status]int
	ByOutcome   map[engine.Outcome]int
	Private     int
	FinishedAvg float64
	Invalid     []string
}

// statuses lists every status in lifecycle order
var statuses = []engine.Status{
	engine.StatusOpen,
	engine.StatusInProgress,
	engine.StatusFinished,
	engine.StatusQuit,
}

func main() {
	cmd := &cli.Command{
		Name:  "analyze",
		Usage: "Summarize and validate persisted games",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Value: "file", Usage: "store backend: file or sqlite", Sources: cli.EnvVars("TTT_STORE")},
			&cli.StringFlag{Name: "data-dir", Value: "data", Usage: "server data directory", Sources: cli.EnvVars("TTT_DATA_DIR")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			games, closeFn, err := openStore(cmd.String("store"), cmd.String("data-dir"))
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := Analyze(ctx, games)
			if err != nil {
				return err
			}
			report.Print(os.Stdout)
			if len(report.Invalid) > 0 {
				return cli.Exit(fmt.Sprintf("%d invalid game records", len(report.Invalid)), 1)
			}
			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

func openStore(kind, dataDir string) (store.Store, func() error, error) {
	switch kind {
	case "file":
		fs, err := store.NewFileStore(filepath.Join(dataDir, "games"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return fs, func() error { return nil }, nil
	case "sqlite":
		db, err := sqlite.Open(filepath.Join(dataDir, "games.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return db, db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q (use file or sqlite)", kind)
}

// Analyze reads every game from games and builds the report
func Analyze(ctx context.Context, games store.Store) (*Report, error) {
	report := &Report{
		ByStatus:  make(map[engine.Status]int),
		ByOutcome: make(map[engine.Outcome]int),
	}

	finishedMoves := 0
	for _, status := range statuses {
		records, err := games.ListByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s games: %w", status, err)
		}
		for _, g := range records {
			report.Total++
			report.ByStatus[g.Status]++
			if g.Private {
				report.Private++
			}
			if g.Status == engine.StatusFinished {
				report.ByOutcome[g.Outcome]++
				finishedMoves += g.MoveCount
			}
			if err := validateRecord(g); err != nil {
				report.Invalid = append(report.Invalid, fmt.Sprintf("%s: %v", g.ID, err))
			}
		}
	}

	if n := report.ByStatus[engine.StatusFinished]; n > 0 {
		report.FinishedAvg = float64(finishedMoves) / float64(n)
	}
	sort.Strings(report.Invalid)
	return report, nil
}

// validateRecord checks what the store cannot: move bookkeeping and the outcome
// matching the board
func validateRecord(g *engine.GameRecord) error {
	if err := g.CheckInvariants(); err != nil {
		return err
	}
	if marks := g.Board.Marks(); marks != g.MoveCount {
		return fmt.Errorf("move count %d but %d marks on the board", g.MoveCount, marks)
	}
	winner, won := g.Board.Winner()
	switch {
	case g.Outcome == engine.OutcomeWinnerSlot1 && (!won || winner != engine.MarkX):
		return fmt.Errorf("slot 1 win without an X line")
	case g.Outcome == engine.OutcomeWinnerSlot2 && (!won || winner != engine.MarkO):
		return fmt.Errorf("slot 2 win without an O line")
	case g.Outcome == engine.OutcomeDraw && (won || !g.Board.Full()):
		return fmt.Errorf("draw on a board that is not full or has a line")
	case g.Status == engine.StatusInProgress && g.Board.Terminal():
		return fmt.Errorf("in progress on a terminal board")
	}
	return nil
}

// Print writes the human-readable report
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "=== Games: %d (private: %d) ===\n", r.Total, r.Private)
	for _, status := range statuses {
		fmt.Fprintf(w, "%-12s %d\n", status, r.ByStatus[status])
	}

	if r.ByStatus[engine.StatusFinished] > 0 {
		fmt.Fprintf(w, "\nOutcomes:\n")
		for _, o := range []engine.Outcome{engine.OutcomeWinnerSlot1, engine.OutcomeWinnerSlot2, engine.OutcomeDraw} {
			fmt.Fprintf(w, "  %-14s %d\n", o, r.ByOutcome[o])
		}
		fmt.Fprintf(w, "Average moves per finished game: %.1f\n", r.FinishedAvg)
	}

	if len(r.Invalid) == 0 {
		fmt.Fprintf(w, "\nAll records are valid\n")
		return
	}
	fmt.Fprintf(w, "\nInvalid records (%d):\n  %s\n", len(r.Invalid), strings.Join(r.Invalid, "\n  "))
}
