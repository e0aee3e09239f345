// Package service implements the game session state machine.
//
// Core Interfaces:
//
// GameService is what the dispatcher and the inspection API depend on.
// Machine is its implementation on top of a store.Store.
//
// Transitions:
//
//	Create  -> OPEN
//	Join    OPEN -> IN_PROGRESS
//	Update  IN_PROGRESS -> IN_PROGRESS | FINISHED
//	Quit    OPEN | IN_PROGRESS -> QUIT
//
// Every read-then-write runs under a per-game lock taken from a reference
// counted lock table, so two transitions on one game never interleave while
// different games proceed in parallel. An illegal transition returns a
// *Rejection and leaves the stored record untouched.
//
// Commit Callbacks:
//
// A CommitFunc passed to a transition runs after the new state is saved and
// before the lock is released. The dispatcher uses it to bind and unbind
// connections so that registry state never disagrees with the game.
//
// Usage:
//
//	machine := service.NewMachine(store.NewMemoryStore())
//
//	game, err := machine.Create(ctx, "alice", false, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	game, err = machine.Join(ctx, game.ID, "bob", nil)
//	if reason, ok := service.RejectionReason(err); ok {
//		log.Printf("join rejected: %s", reason)
//	}
package service
