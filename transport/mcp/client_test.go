package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wricardo/mcp-training/tictactoe/api"
	"github.com/wricardo/mcp-training/tictactoe/game/dispatch"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
	"github.com/wricardo/mcp-training/tictactoe/game/store"
)

// newBackend starts a real API server with one open and one running game
func newBackend(t *testing.T) (*httptest.Server, string, string) {
	t.Helper()
	ctx := context.Background()
	machine := service.NewMachine(store.NewMemoryStore())

	open, err := machine.Create(ctx, "alice", false, nil)
	if err != nil {
		t.Fatalf("Failed to create game: %v", err)
	}
	running, err := machine.Create(ctx, "bob", false, nil)
	if err != nil {
		t.Fatalf("Failed to create game: %v", err)
	}
	if _, err := machine.Join(ctx, running.ID, "carol", nil); err != nil {
		t.Fatalf("Failed to join game: %v", err)
	}
	if _, err := machine.Update(ctx, running.ID, "bob", 1, 1, nil); err != nil {
		t.Fatalf("Failed to move: %v", err)
	}

	registry := session.NewRegistry(nil)
	registry.Register("conn-1", "bob")
	registry.Bind("conn-1", running.ID)

	inbound := make(chan dispatch.Envelope, 1)
	stats := dispatch.New(machine, registry, inbound)
	srv := httptest.NewServer(api.NewServer(machine, registry, nil, stats))
	t.Cleanup(srv.Close)
	return srv, open.ID, running.ID
}

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("Expected result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("Expected text content in result")
	}
	return text.Text
}

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8080/")

	if client.baseURL != "http://localhost:8080" {
		t.Errorf("Expected trailing slash trimmed, got %s", client.baseURL)
	}
	if client.httpClient == nil {
		t.Error("Expected HTTP client to be initialized")
	}
	if client.GetMCPServer() == nil {
		t.Error("Expected MCP server to be initialized")
	}
}

func TestClient_Tools(t *testing.T) {
	srv, openID, runningID := newBackend(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	t.Run("list open games", func(t *testing.T) {
		result, err := client.handleListOpenGames(ctx, callTool("list_open_games", map[string]interface{}{}))
		if err != nil {
			t.Fatalf("list_open_games failed: %v", err)
		}
		text := resultText(t, result)
		if !strings.Contains(text, openID) || strings.Contains(text, runningID) {
			t.Errorf("Expected only the open game, got: %s", text)
		}
	})

	t.Run("list open games with limit", func(t *testing.T) {
		result, _ := client.handleListOpenGames(ctx, callTool("list_open_games", map[string]interface{}{"limit": float64(0)}))
		if text := resultText(t, result); text != "No open games" {
			t.Errorf("Expected empty lobby with limit 0, got: %s", text)
		}
	})

	t.Run("get game", func(t *testing.T) {
		result, err := client.handleGetGame(ctx, callTool("get_game", map[string]interface{}{"game_id": runningID}))
		if err != nil {
			t.Fatalf("get_game failed: %v", err)
		}
		text := resultText(t, result)
		for _, want := range []string{"IN_PROGRESS", " . | X | . ", "Slot 2 (O): carol", "Turn: carol"} {
			if !strings.Contains(text, want) {
				t.Errorf("Expected %q in output, got:\n%s", want, text)
			}
		}
	})

	t.Run("get unknown game", func(t *testing.T) {
		result, _ := client.handleGetGame(ctx, callTool("get_game", map[string]interface{}{"game_id": "missing"}))
		if !result.IsError || !strings.Contains(resultText(t, result), "game not found") {
			t.Errorf("Expected not found error, got: %+v", result)
		}
	})

	t.Run("get game without id", func(t *testing.T) {
		result, _ := client.handleGetGame(ctx, callTool("get_game", map[string]interface{}{}))
		if !result.IsError {
			t.Error("Expected error result")
		}
	})

	t.Run("list connections", func(t *testing.T) {
		result, _ := client.handleListConnections(ctx, callTool("list_connections", nil))
		text := resultText(t, result)
		if !strings.Contains(text, "conn-1 client=bob game="+runningID) {
			t.Errorf("Unexpected connections output: %s", text)
		}
	})

	t.Run("server stats", func(t *testing.T) {
		result, _ := client.handleServerStats(ctx, callTool("server_stats", nil))
		text := resultText(t, result)
		if !strings.Contains(text, "Connections: 1 (1 in a game)") || !strings.Contains(text, "Open games: 1") {
			t.Errorf("Unexpected stats output: %s", text)
		}
	})

	t.Run("rules", func(t *testing.T) {
		result, _ := client.handleGameRules(ctx, callTool("game_rules", nil))
		if !strings.Contains(resultText(t, result), "UPDATE_GAME") {
			t.Error("Rules should describe the protocol")
		}
	})
}

func TestClient_apiCall_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.apiCall(context.Background(), "/api", nil)
	if err == nil || !strings.Contains(err.Error(), "API error") {
		t.Errorf("Expected 'API error', got: %v", err)
	}
}

func TestClient_apiCall_Unreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	if err := client.apiCall(context.Background(), "/api", nil); err == nil {
		t.Error("Expected error for unreachable server")
	}
}

func TestClient_ServeHTTP(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")

	t.Run("rejects GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		client.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected status 405, got %d", rec.Code)
		}
	})

	t.Run("lists tools", func(t *testing.T) {
		body := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		rec := httptest.NewRecorder()
		client.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}

		var resp struct {
			Result struct {
				Tools []struct {
					Name string `json:"name"`
				} `json:"tools"`
			} `json:"result"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		names := make(map[string]bool)
		for _, tool := range resp.Result.Tools {
			names[tool.Name] = true
		}
		for _, want := range []string{"list_open_games", "get_game", "list_connections", "server_stats", "game_rules"} {
			if !names[want] {
				t.Errorf("Expected tool %s to be registered", want)
			}
		}
	})
}

func TestFormatGame(t *testing.T) {
	winner := engine.Summary{
		GameID:  "g9",
		Status:  engine.StatusFinished,
		Outcome: engine.OutcomeDraw,
		Slot1:   "alice",
		Board: [3][3]string{
			{"X", "O", "X"},
			{"X", "O", "O"},
			{"O", "X", "X"},
		},
		MoveCount: 9,
	}
	text := formatGame(&winner)
	for _, want := range []string{"Status: FINISHED", "Moves: 9", " X | O | X", "Slot 2 (O): (waiting)", "Outcome: DRAW"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in output, got:\n%s", want, text)
		}
	}
}
