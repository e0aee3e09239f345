// Package engine provides the tic-tac-toe rules and the game record model.
//
// The engine package implements:
//   - The fixed 3x3 board and move validation
//   - Win detection over the eight lines (rows, columns, diagonals)
//   - Draw detection on a full board
//   - The GameRecord lifecycle: OPEN, IN_PROGRESS, FINISHED, QUIT
//
// Core Types:
//
// Board is a value type, so copying a GameRecord copies its board. GameRecord
// holds the two player slots, the turn owner, the status and the outcome.
// Summary is the wire view sent to clients.
//
// Usage:
//
//	game := engine.NewGameRecord(id, "alice", false, time.Now())
//	game.Seat("bob", time.Now())
//
//	if err := game.ApplyMove(1, 1, time.Now()); err != nil {
//		log.Printf("move rejected: %v", err)
//	}
//
// The engine is not safe for concurrent use. Callers serialize access per
// game; see package service.
package engine
