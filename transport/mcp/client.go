package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/mcp-training/tictactoe/api"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Tic-Tac-Toe Game Server",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Tic-Tac-Toe Game Server - MCP Inspection Interface

This is a read-only view of a live game server. Games are played by WebSocket
clients; these tools let you watch the lobby, individual games and the server.

AVAILABLE TOOLS:
- list_open_games: Public games waiting for a second player
- get_game: Board, players and turn of one game
- list_connections: Live connections and the game each is bound to
- server_stats: Connection, lobby and command counters
- game_rules: How the game and the WebSocket protocol work`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_open_games",
		Description: "List public games that are waiting for a second player",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of games to return (optional)",
				},
			},
		},
	}, c.handleListOpenGames)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_game",
		Description: "Show the board, players, turn and outcome of one game",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game_id": map[string]interface{}{
					"type":        "string",
					"description": "Game ID",
				},
			},
			Required: []string{"game_id"},
		},
	}, c.handleGetGame)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_connections",
		Description: "List live connections with their client ids and bound games",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListConnections)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_stats",
		Description: "Show connection, lobby and dispatcher counters",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleServerStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_rules",
		Description: "Explain the game rules and the WebSocket command protocol",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleGameRules)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// ServeHTTP answers one JSON-RPC message per POST request
func (c *Client) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	response := c.mcpServer.HandleMessage(r.Context(), body)

	w.Header().Set("Content-Type", "application/json")
	if response == nil {
		// Notifications have no reply
		w.WriteHeader(http.StatusAccepted)
		return
	}
	responseData, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Write(responseData)
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	return args
}

// Tool handlers

func (c *Client) handleListOpenGames(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/games"
	if limit, ok := arguments(request)["limit"].(float64); ok && limit >= 0 {
		path += fmt.Sprintf("?limit=%d", int(limit))
	}

	var resp struct {
		Games []engine.Summary `json:"games"`
		Total int              `json:"total"`
	}
	if err := c.apiCall(ctx, path, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatOpenGames(resp.Games)), nil
}

func (c *Client) handleGetGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gameID, _ := arguments(request)["game_id"].(string)
	if gameID == "" {
		return mcp.NewToolResultError("game_id is required"), nil
	}

	var summary engine.Summary
	if err := c.apiCall(ctx, "/api/games/"+url.PathEscape(gameID), &summary); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatGame(&summary)), nil
}

func (c *Client) handleListConnections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var resp struct {
		Connections []session.SessionEntry `json:"connections"`
		Total       int                    `json:"total"`
	}
	if err := c.apiCall(ctx, "/api/connections", &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatConnections(resp.Connections)), nil
}

func (c *Client) handleServerStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats api.StatsResponse
	if err := c.apiCall(ctx, "/api/stats", &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStats(&stats)), nil
}

func (c *Client) handleGameRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(gameRules), nil
}

const gameRules = `TIC-TAC-TOE RULES

Two players share a 3x3 board. The creator holds slot 1 and plays X; the
joiner holds slot 2 and plays O. X moves first and turns alternate.
Three marks in a row, column or diagonal win. A full board without a line is
a draw. Quitting, or disconnecting while seated, ends the game as QUIT.

GAME STATES
OPEN -> IN_PROGRESS -> FINISHED (WINNER_SLOT_1, WINNER_SLOT_2 or DRAW)
OPEN or IN_PROGRESS -> QUIT

WEBSOCKET PROTOCOL
Connect to /ws?clientId=<id>. Every command is a JSON text frame:
  {"clientId":"alice","requestId":"r1","action":"CREATE_GAME","isGamePrivate":false}
  {"clientId":"bob","requestId":"r2","action":"GET_AVAILABLE_GAMES"}
  {"clientId":"bob","requestId":"r3","action":"JOIN_GAME","gameId":"<id>"}
  {"clientId":"alice","requestId":"r4","action":"UPDATE_GAME","gameId":"<id>","row":0,"column":2}
  {"clientId":"bob","requestId":"r5","action":"QUIT_GAME","gameId":"<id>"}

Replies echo requestId and action with "ok" and either "game", "games" or a
"reason" code such as wrong_turn, illegal_cell, slot_filled or game_not_found.
Join, move and quit results are pushed to both players.`

// Formatting helpers

func formatOpenGames(games []engine.Summary) string {
	if len(games) == 0 {
		return "No open games"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Open games (%d):\n", len(games))
	for _, g := range games {
		fmt.Fprintf(&b, "- %s created by %s\n", g.GameID, g.Slot1)
	}
	return b.String()
}

func formatBoard(board [engine.BoardSize][engine.BoardSize]string) string {
	var b strings.Builder
	for r, row := range board {
		cells := make([]string, len(row))
		for c, mark := range row {
			if mark == "" {
				mark = "."
			}
			cells[c] = mark
		}
		b.WriteString(" " + strings.Join(cells, " | ") + "\n")
		if r < len(board)-1 {
			b.WriteString("---+---+---\n")
		}
	}
	return b.String()
}

func formatGame(g *engine.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Game %s | Status: %s | Moves: %d", g.GameID, g.Status, g.MoveCount)
	if g.IsPrivate {
		b.WriteString(" | private")
	}
	b.WriteString("\n\n")
	b.WriteString(formatBoard(g.Board))
	b.WriteString("\n")

	fmt.Fprintf(&b, "Slot 1 (X): %s\n", g.Slot1)
	slot2 := "(waiting)"
	if g.Slot2 != nil {
		slot2 = *g.Slot2
	}
	fmt.Fprintf(&b, "Slot 2 (O): %s\n", slot2)

	switch {
	case g.Turn != nil:
		fmt.Fprintf(&b, "Turn: %s\n", *g.Turn)
	case g.Outcome != "":
		fmt.Fprintf(&b, "Outcome: %s\n", g.Outcome)
	case g.QuitBy != "":
		fmt.Fprintf(&b, "Quit by: %s\n", g.QuitBy)
	}
	return b.String()
}

func formatConnections(entries []session.SessionEntry) string {
	if len(entries) == 0 {
		return "No live connections"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Connections (%d):\n", len(entries))
	for _, e := range entries {
		game := "-"
		if e.Bound() {
			game = e.GameID
		}
		fmt.Fprintf(&b, "- %s client=%s game=%s since %s\n", e.ConnID, e.ClientID, game, e.ConnectedAt.Format(time.RFC3339))
	}
	return b.String()
}

func formatStats(s *api.StatsResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Uptime: %s\n", s.Uptime)
	fmt.Fprintf(&b, "Connections: %d (%d in a game)\n", s.Connections, s.BoundConns)
	fmt.Fprintf(&b, "Open games: %d\n", s.OpenGames)
	fmt.Fprintf(&b, "Commands: %d | Parse failures: %d | Rejections: %d | Internal failures: %d\n",
		s.Dispatcher.Commands, s.Dispatcher.ParseFailures, s.Dispatcher.Rejections, s.Dispatcher.InternalFails)
	fmt.Fprintf(&b, "Disconnect quits: %d\n", s.Dispatcher.Disconnects)
	fmt.Fprintf(&b, "Overloaded requests: %d\n", s.Dispatcher.Overloaded)
	return b.String()
}
