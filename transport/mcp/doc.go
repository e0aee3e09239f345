// Package mcp exposes the game server's inspection API as Model Context
// Protocol tools.
//
// The Client is a thin proxy: every tool calls the REST API of a running
// server and renders the answer as text that reads well in an agent
// transcript.
//
// Tools:
//   - list_open_games: public games waiting for a second player
//   - get_game: board, players, turn and outcome of a game
//   - list_connections: live connections and their bound games
//   - server_stats: connection, lobby and dispatcher counters
//   - game_rules: rules and the WebSocket command protocol
//
// Transport Modes:
//   - HTTP: Client implements http.Handler for POST /mcp
//   - Stdio: server.ServeStdio(client.GetMCPServer())
//
// The tools never change game state; games are played over WebSocket only.
package mcp
