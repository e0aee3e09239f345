// Package api provides the read-only HTTP inspection surface of the game server.
//
// Endpoints:
//   - GET /api - endpoint index
//   - GET /api/games - open public games (optional ?limit=N)
//   - GET /api/games/{id} - one game summary, 404 when unknown
//   - GET /api/connections - live connections and their bound games
//   - GET /api/stats - connection, lobby and dispatcher counters
//   - GET /healthz - liveness probe
//   - GET /ws?clientId=<id> - WebSocket upgrade handled by the gateway
//
// Game state only changes through WebSocket commands. Every response is JSON;
// errors use the shape {"error": "message"}.
package api
