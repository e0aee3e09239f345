// Package session tracks live connections for the tic-tac-toe coordinator.
//
// The session package implements:
//   - Connection registration keyed by connection id
//   - The client identity that owns each connection
//   - The single game a connection is bound to, if any
//   - Best-effort delivery of outbound payloads
//
// Core Types:
//
// Registry is the source of truth for connection state. SessionEntry is a
// value snapshot; mutating it does not change the registry. Sender is the
// outbound side of the connection gateway.
//
// Concurrency:
//
// Every operation takes the registry lock, so bind, unbind and deregister
// are linearizable with each other and with lookups. Delivery snapshots the
// target connections under the read lock and calls the Sender after the lock
// is released, so a slow connection never blocks registry mutations.
//
// Usage:
//
//	registry := session.NewRegistry(gateway)
//
//	entry, err := registry.Register(connID, "alice")
//	if err != nil {
//		log.Printf("register: %v", err)
//	}
//
//	_ = registry.Bind(connID, gameID)
//	registry.DeliverToGame(gameID, payload)
//
//	if gameID, bound := registry.Deregister(connID); bound {
//		// the game must treat this as an implicit quit
//	}
package session
