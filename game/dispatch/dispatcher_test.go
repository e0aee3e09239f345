package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/mcp-training/tictactoe/game/command"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
	"github.com/wricardo/mcp-training/tictactoe/game/store"
)

// captureSender records every payload per connection
type captureSender struct {
	mu   sync.Mutex
	sent map[string][]command.Response
}

func newCaptureSender() *captureSender {
	return &captureSender{sent: make(map[string][]command.Response)}
}

func (s *captureSender) Send(connID string, payload []byte) error {
	var resp command.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[connID] = append(s.sent[connID], resp)
	return nil
}

func (s *captureSender) responses(connID string) []command.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]command.Response(nil), s.sent[connID]...)
}

func (s *captureSender) last(t *testing.T, connID string) command.Response {
	t.Helper()
	got := s.responses(connID)
	if len(got) == 0 {
		t.Fatalf("Connection %s received nothing", connID)
	}
	return got[len(got)-1]
}

type harness struct {
	sender     *captureSender
	registry   *session.Registry
	dispatcher *Dispatcher
	games      *store.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	games := store.NewMemoryStore()
	seq := 0
	var mu sync.Mutex
	machine := service.NewMachine(games, service.WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("g%d", seq)
	}))
	sender := newCaptureSender()
	registry := session.NewRegistry(sender)
	return &harness{
		sender:     sender,
		registry:   registry,
		dispatcher: New(machine, registry, make(chan Envelope, 16)),
		games:      games,
	}
}

func (h *harness) connect(t *testing.T, connID, clientID string) {
	t.Helper()
	if _, err := h.registry.Register(connID, clientID); err != nil {
		t.Fatalf("Failed to register %s: %v", connID, err)
	}
}

func (h *harness) send(connID, clientID, requestID, action string, extra string) {
	payload := fmt.Sprintf(`{"clientId":%q,"requestId":%q,"action":%q%s}`, clientID, requestID, action, extra)
	h.dispatcher.Handle(context.Background(), connID, []byte(payload))
}

func (h *harness) move(connID, clientID, requestID string, row, column int) {
	h.send(connID, clientID, requestID, "UPDATE_GAME", fmt.Sprintf(`,"gameId":"g1","row":%d,"column":%d`, row, column))
}

func expectOK(t *testing.T, resp command.Response, requestID string) {
	t.Helper()
	if !resp.OK {
		t.Fatalf("Request %s rejected: %s", requestID, resp.Reason)
	}
	if resp.RequestID != requestID {
		t.Fatalf("Expected request %s, got %s", requestID, resp.RequestID)
	}
}

func expectRejected(t *testing.T, resp command.Response, reason string) {
	t.Helper()
	if resp.OK {
		t.Fatalf("Expected rejection %s, got success", reason)
	}
	if resp.Reason != reason {
		t.Fatalf("Expected reason %s, got %s", reason, resp.Reason)
	}
}

func TestHandle_FullGame(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c-alice", "alice")
	h.connect(t, "c-bob", "bob")

	h.send("c-alice", "alice", "r1", "CREATE_GAME", "")
	created := h.sender.last(t, "c-alice")
	expectOK(t, created, "r1")
	if created.Game == nil || created.Game.Status != engine.StatusOpen || created.Game.GameID != "g1" {
		t.Fatalf("Unexpected create response: %+v", created.Game)
	}
	if len(h.sender.responses("c-bob")) != 0 {
		t.Error("Create must reply to the requester only")
	}

	h.send("c-bob", "bob", "r2", "GET_AVAILABLE_GAMES", "")
	listed := h.sender.last(t, "c-bob")
	expectOK(t, listed, "r2")
	if len(listed.GameList()) != 1 || listed.GameList()[0].GameID != "g1" {
		t.Fatalf("Expected g1 listed, got %+v", listed.GameList())
	}

	h.send("c-bob", "bob", "r3", "JOIN_GAME", `,"gameId":"g1"`)
	for _, conn := range []string{"c-alice", "c-bob"} {
		resp := h.sender.last(t, conn)
		expectOK(t, resp, "r3")
		if resp.Game.Status != engine.StatusInProgress || resp.Game.Turn == nil || *resp.Game.Turn != "alice" {
			t.Fatalf("Unexpected join broadcast to %s: %+v", conn, resp.Game)
		}
	}
	if entry, _ := h.registry.Lookup("c-bob"); entry.GameID != "g1" {
		t.Errorf("Joiner should be bound to g1, got %q", entry.GameID)
	}

	t.Run("wrong turn goes to the requester only", func(t *testing.T) {
		before := len(h.sender.responses("c-alice"))
		h.move("c-bob", "bob", "r4", 0, 0)
		expectRejected(t, h.sender.last(t, "c-bob"), "wrong_turn")
		if len(h.sender.responses("c-alice")) != before {
			t.Error("Rejection must not reach the opponent")
		}
	})

	// X takes the top row
	moves := []struct {
		conn, client string
		row, col     int
	}{
		{"c-alice", "alice", 0, 0},
		{"c-bob", "bob", 1, 0},
		{"c-alice", "alice", 0, 1},
		{"c-bob", "bob", 1, 1},
		{"c-alice", "alice", 0, 2},
	}
	for i, m := range moves {
		id := fmt.Sprintf("m%d", i)
		h.move(m.conn, m.client, id, m.row, m.col)
		expectOK(t, h.sender.last(t, "c-alice"), id)
		expectOK(t, h.sender.last(t, "c-bob"), id)
	}

	final := h.sender.last(t, "c-bob").Game
	if final.Status != engine.StatusFinished || final.Outcome != engine.OutcomeWinnerSlot1 {
		t.Fatalf("Expected slot 1 win, got %s/%s", final.Status, final.Outcome)
	}
	if final.Board[0] != [3]string{"X", "X", "X"} {
		t.Errorf("Unexpected board row: %v", final.Board[0])
	}
	for _, conn := range []string{"c-alice", "c-bob"} {
		if entry, _ := h.registry.Lookup(conn); entry.Bound() {
			t.Errorf("%s should be unbound after the game finished", conn)
		}
	}

	t.Run("move after finish", func(t *testing.T) {
		h.move("c-bob", "bob", "late", 2, 2)
		expectRejected(t, h.sender.last(t, "c-bob"), "wrong_state")
	})
}

func TestHandle_ParseFailure(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", "alice")
	h.connect(t, "c2", "bob")

	h.dispatcher.Handle(context.Background(), "c1", []byte("{not json"))
	resp := h.sender.last(t, "c1")
	expectRejected(t, resp, command.ReasonMalformedPayload)
	if resp.RequestID != command.UnknownRequestID {
		t.Errorf("Expected sentinel request id, got %q", resp.RequestID)
	}

	h.dispatcher.Handle(context.Background(), "c1", []byte(`{"requestId":"r7","clientId":"alice","action":"UPDATE_GAME","gameId":"g1"}`))
	resp = h.sender.last(t, "c1")
	expectRejected(t, resp, command.ReasonMissingField)
	if resp.RequestID != "r7" {
		t.Errorf("Expected request id r7, got %q", resp.RequestID)
	}

	if len(h.sender.responses("c2")) != 0 {
		t.Error("Parse failures must reach the sender only")
	}
	if got := h.dispatcher.Stats().ParseFailures; got != 2 {
		t.Errorf("Expected 2 parse failures, got %d", got)
	}
}

func TestHandle_IdentityAndBinding(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", "alice")
	h.connect(t, "c2", "bob")

	t.Run("payload identity must match the connection", func(t *testing.T) {
		h.send("c1", "mallory", "r1", "CREATE_GAME", "")
		expectRejected(t, h.sender.last(t, "c1"), ReasonUnauthorized)
		if h.games.Count() != 0 {
			t.Error("Unauthorized command must not create a game")
		}
	})

	t.Run("one game per connection", func(t *testing.T) {
		h.send("c1", "alice", "r2", "CREATE_GAME", "")
		expectOK(t, h.sender.last(t, "c1"), "r2")
		h.send("c1", "alice", "r3", "CREATE_GAME", "")
		expectRejected(t, h.sender.last(t, "c1"), ReasonAlreadyInGame)

		h.send("c2", "bob", "r4", "CREATE_GAME", "")
		expectOK(t, h.sender.last(t, "c2"), "r4")
		h.send("c2", "bob", "r5", "JOIN_GAME", `,"gameId":"g1"`)
		expectRejected(t, h.sender.last(t, "c2"), ReasonAlreadyInGame)
	})

	t.Run("self join", func(t *testing.T) {
		h.send("c1", "alice", "r6", "JOIN_GAME", `,"gameId":"g1"`)
		expectRejected(t, h.sender.last(t, "c1"), string(service.ReasonSelfJoin))
	})

	t.Run("untracked connection is ignored", func(t *testing.T) {
		h.send("ghost", "alice", "r7", "GET_AVAILABLE_GAMES", "")
		if len(h.sender.responses("ghost")) != 0 {
			t.Error("Untracked connection should receive nothing")
		}
	})
}

func TestHandle_PrivateGame(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", "alice")
	h.connect(t, "c2", "bob")

	h.send("c1", "alice", "r1", "CREATE_GAME", `,"isGamePrivate":true`)
	expectOK(t, h.sender.last(t, "c1"), "r1")

	h.send("c2", "bob", "r2", "GET_AVAILABLE_GAMES", "")
	if games := h.sender.last(t, "c2").GameList(); len(games) != 0 {
		t.Fatalf("Private game must not be listed, got %+v", games)
	}

	h.send("c2", "bob", "r3", "JOIN_GAME", `,"gameId":"g1"`)
	expectOK(t, h.sender.last(t, "c2"), "r3")
}

func TestHandle_Quit(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", "alice")
	h.connect(t, "c2", "bob")
	h.connect(t, "c3", "carol")

	h.send("c1", "alice", "r1", "CREATE_GAME", "")
	h.send("c2", "bob", "r2", "JOIN_GAME", `,"gameId":"g1"`)

	h.send("c3", "carol", "r3", "QUIT_GAME", `,"gameId":"g1"`)
	expectRejected(t, h.sender.last(t, "c3"), string(service.ReasonNotAPlayer))

	h.send("c2", "bob", "r4", "QUIT_GAME", `,"gameId":"g1"`)
	for _, conn := range []string{"c1", "c2"} {
		resp := h.sender.last(t, conn)
		expectOK(t, resp, "r4")
		if resp.Game.Status != engine.StatusQuit || resp.Game.QuitBy != "bob" {
			t.Fatalf("Unexpected quit broadcast: %+v", resp.Game)
		}
	}
	if len(h.sender.responses("c3")) != 1 {
		t.Error("Bystander must not receive the broadcast")
	}

	h.send("c1", "alice", "r5", "QUIT_GAME", `,"gameId":"g1"`)
	expectRejected(t, h.sender.last(t, "c1"), string(service.ReasonGameOver))
}

func TestHandle_ReconnectedPlayerTakesOverGame(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", "alice")
	h.connect(t, "c2", "bob")
	h.send("c1", "alice", "r1", "CREATE_GAME", "")
	h.send("c2", "bob", "r2", "JOIN_GAME", `,"gameId":"g1"`)

	// alice continues from a second connection before the first one is gone
	h.connect(t, "c1b", "alice")
	h.move("c1b", "alice", "r3", 1, 1)
	expectOK(t, h.sender.last(t, "c1b"), "r3")
	if entry, _ := h.registry.Lookup("c1b"); entry.GameID != "g1" {
		t.Errorf("Second connection should be bound to g1, got %q", entry.GameID)
	}
	if entry, _ := h.registry.Lookup("c1"); entry.Bound() {
		t.Errorf("Stale connection should be released, got %q", entry.GameID)
	}

	h.dispatcher.handleClose(context.Background(), "c1")

	game, err := h.games.Get(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if game.Status != engine.StatusInProgress {
		t.Fatalf("Closing the stale connection must not end the game, got %s", game.Status)
	}
	if got := h.dispatcher.Stats().Disconnects; got != 0 {
		t.Errorf("Expected no disconnect quit, got %d", got)
	}

	h.move("c2", "bob", "r4", 0, 0)
	expectOK(t, h.sender.last(t, "c1b"), "r4")
}

// brokenMachine fails every call with an internal error
type brokenMachine struct {
	service.GameService
}

func (brokenMachine) Create(ctx context.Context, creatorID string, private bool, onCommit service.CommitFunc) (*engine.GameRecord, error) {
	return nil, errors.New("disk on fire")
}

func (brokenMachine) ListOpen(ctx context.Context) ([]*engine.GameRecord, error) {
	return nil, fmt.Errorf("list: %w", service.ErrConflict)
}

func TestHandle_InternalError(t *testing.T) {
	sender := newCaptureSender()
	registry := session.NewRegistry(sender)
	d := New(brokenMachine{}, registry, make(chan Envelope))
	registry.Register("c1", "alice")

	d.Handle(context.Background(), "c1", []byte(`{"clientId":"alice","requestId":"r1","action":"CREATE_GAME"}`))
	expectRejected(t, sender.last(t, "c1"), command.ReasonInternalError)

	d.Handle(context.Background(), "c1", []byte(`{"clientId":"alice","requestId":"r2","action":"GET_AVAILABLE_GAMES"}`))
	expectRejected(t, sender.last(t, "c1"), command.ReasonInternalError)

	if got := d.Stats().InternalFails; got != 2 {
		t.Errorf("Expected 2 internal failures, got %d", got)
	}
	if entry, _ := registry.Lookup("c1"); entry.Bound() {
		t.Error("Failed create must not bind the connection")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestRun_DisconnectNotifiesOpponentOnce(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.dispatcher.Run(ctx)
		close(done)
	}()
	in := h.dispatcher.Inbound()

	in <- Opened("c1", "alice")
	in <- Message("c1", []byte(`{"clientId":"alice","requestId":"r1","action":"CREATE_GAME"}`))
	waitFor(t, "create reply", func() bool { return len(h.sender.responses("c1")) == 1 })

	in <- Opened("c2", "bob")
	in <- Message("c2", []byte(`{"clientId":"bob","requestId":"r2","action":"JOIN_GAME","gameId":"g1"}`))
	waitFor(t, "join broadcast", func() bool { return len(h.sender.responses("c1")) == 2 })

	in <- Closed("c2")
	waitFor(t, "disconnect broadcast", func() bool { return len(h.sender.responses("c1")) == 3 })

	resp := h.sender.last(t, "c1")
	expectOK(t, resp, DisconnectRequestID)
	if resp.Action != string(command.ActionQuitGame) || resp.Game.Status != engine.StatusQuit || resp.Game.QuitBy != "bob" {
		t.Fatalf("Unexpected disconnect broadcast: %+v", resp)
	}

	// a second close for the same connection changes nothing
	in <- Closed("c2")
	in <- Closed("c1")
	waitFor(t, "registry drained", func() bool { return h.registry.Count() == 0 })

	cancel()
	<-done
	h.dispatcher.Wait()

	if got := len(h.sender.responses("c1")); got != 3 {
		t.Errorf("Expected exactly 3 payloads for c1, got %d", got)
	}
	if got := h.dispatcher.Stats().Disconnects; got != 1 {
		t.Errorf("Expected 1 disconnect quit, got %d", got)
	}
}

// stalledMachine blocks listing until released
type stalledMachine struct {
	service.GameService
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *stalledMachine) ListOpen(ctx context.Context) ([]*engine.GameRecord, error) {
	m.once.Do(func() { close(m.entered) })
	<-m.release
	return m.GameService.ListOpen(ctx)
}

func TestRun_FullBacklogIsRefused(t *testing.T) {
	machine := &stalledMachine{
		GameService: service.NewMachine(store.NewMemoryStore()),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	sender := newCaptureSender()
	registry := session.NewRegistry(sender)
	d := New(machine, registry, make(chan Envelope, 16))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	in := d.Inbound()

	list := func(requestID string) []byte {
		return []byte(fmt.Sprintf(`{"clientId":"alice","requestId":%q,"action":"GET_AVAILABLE_GAMES"}`, requestID))
	}

	in <- Opened("c1", "alice")
	in <- Message("c1", list("first"))
	<-machine.entered

	for i := 0; i < queueSize; i++ {
		in <- Message("c1", list(fmt.Sprintf("q%d", i)))
	}
	in <- Message("c1", list("extra"))
	waitFor(t, "overload reply", func() bool { return len(sender.responses("c1")) == 1 })

	resp := sender.last(t, "c1")
	if resp.RequestID != "extra" || resp.Reason != ReasonOverloaded {
		t.Fatalf("Unexpected overload reply: %+v", resp)
	}

	// other connections keep flowing while c1 is stuck
	in <- Opened("c2", "bob")
	in <- Message("c2", []byte(`{"clientId":"bob","requestId":"r1","action":"CREATE_GAME"}`))
	waitFor(t, "create reply", func() bool { return len(sender.responses("c2")) == 1 })
	expectOK(t, sender.last(t, "c2"), "r1")

	close(machine.release)
	waitFor(t, "backlog drained", func() bool { return len(sender.responses("c1")) == queueSize+2 })

	if got := d.Stats().Overloaded; got != 1 {
		t.Errorf("Expected 1 overloaded request, got %d", got)
	}

	in <- Closed("c1")
	in <- Closed("c2")
	waitFor(t, "registry drained", func() bool { return registry.Count() == 0 })
	cancel()
	<-done
	d.Wait()
}

func TestRun_DisconnectFromOpenGame(t *testing.T) {
	h := newHarness(t)
	in := h.dispatcher.inbound

	in <- Opened("c1", "alice")
	in <- Message("c1", []byte(`{"clientId":"alice","requestId":"r1","action":"CREATE_GAME"}`))
	in <- Closed("c1")
	close(in)

	h.dispatcher.Run(context.Background())
	h.dispatcher.Wait()

	game, err := h.games.Get(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Failed to load game: %v", err)
	}
	if game.Status != engine.StatusQuit {
		t.Errorf("Abandoned open game should be QUIT, got %s", game.Status)
	}
	open, _ := h.games.ListByStatus(context.Background(), engine.StatusOpen)
	if len(open) != 0 {
		t.Errorf("Expected empty lobby, got %d games", len(open))
	}
}

func TestRun_ConnectionsInParallel(t *testing.T) {
	h := newHarness(t)
	in := make(chan Envelope)
	h.dispatcher = New(h.dispatcher.machine, h.registry, in)

	done := make(chan struct{})
	go func() {
		h.dispatcher.Run(context.Background())
		close(done)
	}()

	const n = 20
	for i := 0; i < n; i++ {
		conn := fmt.Sprintf("c%d", i)
		client := fmt.Sprintf("player%d", i)
		in <- Opened(conn, client)
		in <- Message(conn, []byte(fmt.Sprintf(`{"clientId":%q,"requestId":"r","action":"CREATE_GAME"}`, client)))
	}
	waitFor(t, "all creates", func() bool {
		for i := 0; i < n; i++ {
			if len(h.sender.responses(fmt.Sprintf("c%d", i))) != 1 {
				return false
			}
		}
		return true
	})
	close(in)
	<-done
	h.dispatcher.Wait()

	if h.games.Count() != n {
		t.Errorf("Expected %d games, got %d", n, h.games.Count())
	}
}
