package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/wricardo/mcp-training/tictactoe/game/command"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
)

// Reasons produced by the dispatcher itself rather than the game machine
const (
	ReasonUnauthorized  = "unauthorized"
	ReasonAlreadyInGame = "already_in_game"
	ReasonOverloaded    = "overloaded"
)

// DisconnectRequestID correlates the broadcast sent when a player drops
const DisconnectRequestID = "disconnect"

// queueSize bounds the per-connection backlog; messages beyond it are refused
const queueSize = 32

// Stats counts what the dispatcher has processed since start
type Stats struct {
	Commands      int64 `json:"commands"`
	ParseFailures int64 `json:"parse_failures"`
	Rejections    int64 `json:"rejections"`
	InternalFails int64 `json:"internal_failures"`
	Disconnects   int64 `json:"disconnects"`
	Overloaded    int64 `json:"overloaded"`
	Workers       int   `json:"workers"`
}

// Dispatcher routes inbound envelopes to the game machine and delivers results
type Dispatcher struct {
	machine  service.GameService
	registry *session.Registry
	inbound  chan Envelope
	debug    bool

	workers map[string]chan Envelope
	mu      sync.Mutex
	wg      sync.WaitGroup

	commands      atomic.Int64
	parseFailures atomic.Int64
	rejections    atomic.Int64
	internalFails atomic.Int64
	disconnects   atomic.Int64
	overloaded    atomic.Int64
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithDebug enables per-command logging
func WithDebug(debug bool) Option {
	return func(d *Dispatcher) { d.debug = debug }
}

// New creates a dispatcher reading from inbound
func New(machine service.GameService, registry *session.Registry, inbound chan Envelope, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		machine:  machine,
		registry: registry,
		inbound:  inbound,
		workers:  make(map[string]chan Envelope),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Inbound returns the channel producers write envelopes to
func (d *Dispatcher) Inbound() chan<- Envelope {
	return d.inbound
}

// Run consumes the inbound channel until ctx is done or the channel is closed.
// Envelopes of one connection are handled in order; connections run in parallel.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.stopWorkers()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-d.inbound:
			if !ok {
				return
			}
			d.route(ctx, env)
		}
	}
}

// Wait blocks until every worker has drained its queue
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) route(ctx context.Context, env Envelope) {
	d.mu.Lock()
	queue, exists := d.workers[env.ConnID]
	if !exists {
		if env.Kind == KindClosed {
			d.mu.Unlock()
			// Nothing was ever queued; still release any registration
			d.handleClose(context.WithoutCancel(ctx), env.ConnID)
			return
		}
		queue = make(chan Envelope, queueSize)
		d.workers[env.ConnID] = queue
		d.wg.Add(1)
		go d.work(context.WithoutCancel(ctx), queue)
	}
	if env.Kind == KindClosed {
		delete(d.workers, env.ConnID)
	}
	d.mu.Unlock()

	if env.Kind == KindClosed {
		select {
		case queue <- env:
			close(queue)
		default:
			go func() {
				queue <- env
				close(queue)
			}()
		}
		return
	}

	select {
	case queue <- env:
	default:
		d.refuse(env)
	}
}

// refuse answers a message that did not fit in its connection's backlog
func (d *Dispatcher) refuse(env Envelope) {
	d.overloaded.Add(1)
	h := command.Header{RequestID: command.UnknownRequestID}
	cmd, err := command.Decode(env.Payload)
	var failure *command.ParseFailure
	switch {
	case err == nil:
		h = cmd.Meta()
	case errors.As(err, &failure):
		h = command.Header{RequestID: failure.RequestID, Action: command.Action(failure.Action)}
	}
	log.Printf("Backlog full on connection %s, refusing request %s", env.ConnID, h.RequestID)
	d.reply(env.ConnID, command.Rejected(h, ReasonOverloaded))
}

func (d *Dispatcher) stopWorkers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for connID, queue := range d.workers {
		close(queue)
		delete(d.workers, connID)
	}
}

func (d *Dispatcher) work(ctx context.Context, queue <-chan Envelope) {
	defer d.wg.Done()
	for env := range queue {
		switch env.Kind {
		case KindOpen:
			if _, err := d.registry.Register(env.ConnID, env.ClientID); err != nil {
				log.Printf("Register connection %s failed: %v", env.ConnID, err)
			}
		case KindMessage:
			d.Handle(ctx, env.ConnID, env.Payload)
		case KindClosed:
			d.handleClose(ctx, env.ConnID)
		}
	}
}

// Handle decodes and executes one payload from connID
func (d *Dispatcher) Handle(ctx context.Context, connID string, payload []byte) {
	entry, err := d.registry.Lookup(connID)
	if err != nil {
		log.Printf("Dropping payload from untracked connection %s", connID)
		return
	}

	cmd, err := command.Decode(payload)
	if err != nil {
		d.parseFailures.Add(1)
		var failure *command.ParseFailure
		if errors.As(err, &failure) {
			d.reply(connID, command.Failure(failure))
		}
		return
	}

	d.commands.Add(1)
	h := cmd.Meta()
	if d.debug {
		log.Printf("conn=%s client=%s request=%s action=%s", connID, entry.ClientID, h.RequestID, h.Action)
	}

	if h.ClientID != entry.ClientID {
		d.reject(connID, h, ReasonUnauthorized)
		return
	}

	switch c := cmd.(type) {
	case command.CreateGame:
		d.handleCreate(ctx, entry, c)
	case command.ListOpenGames:
		d.handleList(ctx, entry, c)
	case command.JoinGame:
		d.handleJoin(ctx, entry, c)
	case command.UpdateGame:
		d.handleUpdate(ctx, entry, c)
	case command.QuitGame:
		d.handleQuit(ctx, entry, c)
	}
}

func (d *Dispatcher) handleCreate(ctx context.Context, entry session.SessionEntry, c command.CreateGame) {
	if entry.Bound() {
		d.reject(entry.ConnID, c.Header, ReasonAlreadyInGame)
		return
	}

	game, err := d.machine.Create(ctx, entry.ClientID, c.Private, d.bindOnCommit(entry.ConnID))
	if err != nil {
		d.fail(entry.ConnID, c.Header, err)
		return
	}
	d.reply(entry.ConnID, command.OK(c.Header, game))
}

func (d *Dispatcher) handleList(ctx context.Context, entry session.SessionEntry, c command.ListOpenGames) {
	games, err := d.machine.ListOpen(ctx)
	if err != nil {
		d.fail(entry.ConnID, c.Header, err)
		return
	}
	d.reply(entry.ConnID, command.List(c.Header, games))
}

func (d *Dispatcher) handleJoin(ctx context.Context, entry session.SessionEntry, c command.JoinGame) {
	if entry.Bound() && entry.GameID != c.GameID {
		d.reject(entry.ConnID, c.Header, ReasonAlreadyInGame)
		return
	}

	game, err := d.machine.Join(ctx, c.GameID, entry.ClientID, d.bindOnCommit(entry.ConnID))
	if err != nil {
		d.fail(entry.ConnID, c.Header, err)
		return
	}
	d.broadcast(game, command.OK(c.Header, game))
}

func (d *Dispatcher) handleUpdate(ctx context.Context, entry session.SessionEntry, c command.UpdateGame) {
	if entry.Bound() && entry.GameID != c.GameID {
		d.reject(entry.ConnID, c.Header, ReasonAlreadyInGame)
		return
	}

	game, err := d.machine.Update(ctx, c.GameID, entry.ClientID, c.Row, c.Column, d.settleOnCommit(entry.ConnID))
	if err != nil {
		d.fail(entry.ConnID, c.Header, err)
		return
	}
	d.broadcast(game, command.OK(c.Header, game))
}

func (d *Dispatcher) handleQuit(ctx context.Context, entry session.SessionEntry, c command.QuitGame) {
	game, err := d.machine.Quit(ctx, c.GameID, entry.ClientID, d.settleOnCommit(""))
	if err != nil {
		d.fail(entry.ConnID, c.Header, err)
		return
	}
	d.broadcast(game, command.OK(c.Header, game))
}

// handleClose releases the connection and abandons the game it was playing
func (d *Dispatcher) handleClose(ctx context.Context, connID string) {
	entry, err := d.registry.Lookup(connID)
	if err != nil {
		return
	}
	gameID, bound := d.registry.Deregister(connID)
	if !bound {
		return
	}

	d.disconnects.Add(1)
	game, err := d.machine.Quit(ctx, gameID, entry.ClientID, d.settleOnCommit(""))
	if err != nil {
		if _, rejected := service.RejectionReason(err); !rejected {
			log.Printf("Quit on disconnect of %s from game %s failed: %v", connID, gameID, err)
		}
		return
	}

	log.Printf("Client %s disconnected from game %s", entry.ClientID, gameID)
	h := command.Header{RequestID: DisconnectRequestID, ClientID: entry.ClientID, Action: command.ActionQuitGame}
	d.broadcast(game, command.OK(h, game))
}

// bindOnCommit attaches connID to the committed game
func (d *Dispatcher) bindOnCommit(connID string) service.CommitFunc {
	return func(game *engine.GameRecord) {
		if err := d.registry.Bind(connID, game.ID); err != nil {
			log.Printf("Bind connection %s to game %s failed: %v", connID, game.ID, err)
		}
	}
}

// settleOnCommit releases every connection of a finished game. A live game is
// bound to connID so a reconnected player is tracked again.
func (d *Dispatcher) settleOnCommit(connID string) service.CommitFunc {
	return func(game *engine.GameRecord) {
		if game.Status.Terminal() {
			d.registry.UnbindGame(game.ID)
			return
		}
		if connID == "" {
			return
		}
		if err := d.registry.Bind(connID, game.ID); err != nil {
			log.Printf("Bind connection %s to game %s failed: %v", connID, game.ID, err)
		}
	}
}

// fail maps a machine error to a reply for the requester
func (d *Dispatcher) fail(connID string, h command.Header, err error) {
	if reason, ok := service.RejectionReason(err); ok {
		d.reject(connID, h, string(reason))
		return
	}
	d.internalFails.Add(1)
	log.Printf("Internal error on %s request %s from %s: %v", h.Action, h.RequestID, connID, err)
	d.reply(connID, command.Rejected(h, command.ReasonInternalError))
}

func (d *Dispatcher) reject(connID string, h command.Header, reason string) {
	d.rejections.Add(1)
	if d.debug {
		log.Printf("Rejected %s request %s from %s: %s", h.Action, h.RequestID, connID, reason)
	}
	d.reply(connID, command.Rejected(h, reason))
}

func (d *Dispatcher) reply(connID string, resp command.Response) {
	data, err := command.Encode(resp)
	if err != nil {
		log.Printf("Encode response for %s failed: %v", connID, err)
		return
	}
	d.registry.DeliverToConn(connID, data)
}

// broadcast sends resp to every connection of both slot holders
func (d *Dispatcher) broadcast(game *engine.GameRecord, resp command.Response) {
	data, err := command.Encode(resp)
	if err != nil {
		log.Printf("Encode broadcast for game %s failed: %v", game.ID, err)
		return
	}
	d.registry.DeliverToClients(game.BoundPlayers(), data)
}

// Stats returns a snapshot of the counters
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	workers := len(d.workers)
	d.mu.Unlock()

	return Stats{
		Commands:      d.commands.Load(),
		ParseFailures: d.parseFailures.Load(),
		Rejections:    d.rejections.Load(),
		InternalFails: d.internalFails.Load(),
		Disconnects:   d.disconnects.Load(),
		Overloaded:    d.overloaded.Load(),
		Workers:       workers,
	}
}
