// Command tictactoe starts the real-time tic-tac-toe game server.
//
// It supports two modes:
//  1. "serve" (default) – runs the HTTP server exposing the WebSocket gateway,
//     the read-only REST API and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server against a running API, or against an
//     internal one when none is reachable
//
// Flags control host/port, the game store backend, debug logging and optional
// ngrok tunneling for easy external access during development.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/mcp-training/tictactoe/api"
	"github.com/wricardo/mcp-training/tictactoe/game/dispatch"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
	"github.com/wricardo/mcp-training/tictactoe/game/store"
	"github.com/wricardo/mcp-training/tictactoe/game/store/sqlite"
	"github.com/wricardo/mcp-training/tictactoe/transport/mcp"
	"github.com/wricardo/mcp-training/tictactoe/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Tic-Tac-Toe Game Server"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// inboundBuffer is the capacity of the gateway to dispatcher channel
const inboundBuffer = 256

// Config is everything the server needs to start
type Config struct {
	Host        string
	Port        int
	Store       string
	DataDir     string
	Debug       bool
	Ngrok       bool
	NgrokAuth   string
	NgrokDomain string
}

// Addr returns the listen address
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	} else {
		log.Println("Loaded environment variables from .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

// newCommand builds the CLI. Flags are shared by every subcommand.
func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "tictactoe",
		Usage:   AppName,
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "localhost", Usage: "HTTP server host", Sources: cli.EnvVars("TTT_HOST")},
			&cli.IntFlag{Name: "port", Value: 8080, Usage: "HTTP server port", Sources: cli.EnvVars("TTT_PORT")},
			&cli.StringFlag{Name: "store", Value: StoreMemory, Usage: "game store backend: memory, file or sqlite", Sources: cli.EnvVars("TTT_STORE")},
			&cli.StringFlag{Name: "data-dir", Value: "data", Usage: "directory for the file and sqlite stores", Sources: cli.EnvVars("TTT_DATA_DIR")},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging", Sources: cli.EnvVars("TTT_DEBUG")},
			&cli.BoolFlag{Name: "ngrok", Usage: "enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
			&cli.StringFlag{Name: "ngrok-auth", Usage: "ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain (optional)", Sources: cli.EnvVars("NGROK_DOMAIN")},
		},
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run HTTP server with WebSocket gateway, REST API and MCP endpoint",
				Action: runServe,
			},
			{
				Name:  "mcp",
				Usage: "Run MCP stdio server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api-url", Value: "http://localhost:8080", Usage: "API server to proxy to", Sources: cli.EnvVars("TTT_API_URL")},
				},
				Action: runStdioMCP,
			},
		},
	}
}

// configFromCommand reads the shared flags
func configFromCommand(cmd *cli.Command) Config {
	return Config{
		Host:        cmd.String("host"),
		Port:        int(cmd.Int("port")),
		Store:       cmd.String("store"),
		DataDir:     cmd.String("data-dir"),
		Debug:       cmd.Bool("debug"),
		Ngrok:       cmd.Bool("ngrok"),
		NgrokAuth:   cmd.String("ngrok-auth"),
		NgrokDomain: cmd.String("ngrok-domain"),
	}
}

func setupLogging(debug bool) {
	if debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}
}

// openStore selects the game store backend. The returned close func is never nil.
func openStore(kind, dataDir string) (store.Store, func() error, error) {
	noop := func() error { return nil }

	switch kind {
	case "", StoreMemory:
		return store.NewMemoryStore(), noop, nil

	case StoreFile:
		fs, err := store.NewFileStore(filepath.Join(dataDir, "games"))
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open file store: %w", err)
		}
		return fs, noop, nil

	case StoreSQLite:
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, noop, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err := sqlite.Open(filepath.Join(dataDir, "games.db"))
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return db, db.Close, nil
	}

	return nil, noop, fmt.Errorf("unknown store %q (use memory, file or sqlite)", kind)
}

// App is the wired server: gateway -> dispatcher -> machine -> registry -> gateway
type App struct {
	Machine    *service.Machine
	Registry   *session.Registry
	Dispatcher *dispatch.Dispatcher
	Gateway    *websocket.Gateway
	Handler    http.Handler

	inbound    chan dispatch.Envelope
	running    chan struct{}
	closeStore func() error
}

// newApp wires every component. baseURL is where the /mcp endpoint proxies to.
func newApp(cfg Config, baseURL string) (*App, error) {
	games, closeStore, err := openStore(cfg.Store, cfg.DataDir)
	if err != nil {
		return nil, err
	}

	machine := service.NewMachine(games)
	inbound := make(chan dispatch.Envelope, inboundBuffer)
	gateway := websocket.NewGateway(inbound)
	registry := session.NewRegistry(gateway)
	dispatcher := dispatch.New(machine, registry, inbound, dispatch.WithDebug(cfg.Debug))

	apiServer := api.NewServer(machine, registry, gateway, dispatcher)
	mcpClient := mcp.NewClient(baseURL)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.Handle("/mcp", mcpClient)

	return &App{
		Machine:    machine,
		Registry:   registry,
		Dispatcher: dispatcher,
		Gateway:    gateway,
		Handler:    mainRouter,
		inbound:    inbound,
		running:    make(chan struct{}),
		closeStore: closeStore,
	}, nil
}

// Start runs the dispatcher until ctx is done or Stop closes its inbound channel
func (a *App) Start(ctx context.Context) {
	go func() {
		defer close(a.running)
		a.Dispatcher.Run(ctx)
	}()
}

// Stop disconnects every client, drains the dispatcher and closes the store.
// cancelDispatch must stop the context given to Start.
func (a *App) Stop(ctx context.Context, cancelDispatch context.CancelFunc) error {
	defer cancelDispatch()

	if err := a.Gateway.Shutdown(ctx); err != nil {
		// pumps may still forward, so inbound stays open
		log.Printf("Gateway shutdown incomplete: %v", err)
		cancelDispatch()
	} else {
		close(a.inbound)
	}

	select {
	case <-a.running:
	case <-ctx.Done():
		log.Printf("Dispatcher drain incomplete: %v", ctx.Err())
		cancelDispatch()
		<-a.running
	}
	a.Dispatcher.Wait()

	return a.closeStore()
}

// runServe starts the HTTP server with the WebSocket gateway, REST API and an
// /mcp endpoint. If ngrok is enabled it also provisions a public tunnel.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg := configFromCommand(cmd)
	setupLogging(cfg.Debug)
	log.Printf("Starting %s v%s (store: %s)", AppName, Version, cfg.Store)

	addr := cfg.Addr()
	app, err := newApp(cfg, fmt.Sprintf("http://%s", addr))
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	app.Start(dispatchCtx)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      app.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Printf("HTTP server listening on %s", addr)
		log.Printf("WebSocket: ws://%s/ws?clientId=<client_id>", addr)
		log.Printf("REST API: http://%s/api", addr)
		log.Printf("MCP endpoint: http://%s/mcp", addr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	if cfg.Ngrok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cfg, app.Handler)
		}()
	}

	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
	case err := <-serveErr:
		cancelDispatch()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := app.Stop(shutdownCtx, cancelDispatch); err != nil {
		log.Printf("Store close error: %v", err)
	}

	wg.Wait()
	log.Println("Server stopped")
	return nil
}

// runNgrok serves handler through an ngrok tunnel until ctx is done
func runNgrok(ctx context.Context, cfg Config, handler http.Handler) {
	if cfg.NgrokAuth == "" {
		log.Println("WARNING: Ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	log.Println("Starting ngrok tunnel...")

	var tunnel ngrokConfig.Tunnel
	if cfg.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.NgrokDomain))
		log.Printf("Using custom ngrok domain: %s", cfg.NgrokDomain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.NgrokAuth))
	if err != nil {
		log.Printf("Failed to start ngrok tunnel: %v", err)
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Printf("Failed to close ngrok tunnel: %v", err)
		}
	}()

	ngrokURL := tun.URL()
	log.Printf("Ngrok tunnel established: %s", ngrokURL)
	log.Printf("  WebSocket (ngrok): %s/ws?clientId=<client_id>", ngrokURL)
	log.Printf("  REST API (ngrok): %s/api", ngrokURL)
	log.Printf("  MCP endpoint (ngrok): %s/mcp", ngrokURL)

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.Printf("Ngrok server error: %v", err)
	}
	log.Println("Ngrok tunnel closed")
}

// apiReachable reports whether an API server answers at baseURL
func apiReachable(baseURL string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/api")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// runStdioMCP runs an MCP stdio server. It reuses the API at --api-url when
// reachable; otherwise it starts an internal API bound to a random loopback port.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	cfg := configFromCommand(cmd)
	setupLogging(cfg.Debug)

	baseURL := cmd.String("api-url")
	log.Printf("Checking for external API server at %s...", baseURL)

	if apiReachable(baseURL) {
		log.Printf("External API server found at %s, using it for MCP", baseURL)
	} else {
		log.Printf("No external API server found, starting internal HTTP server")

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = fmt.Sprintf("http://%s", listener.Addr().String())

		app, err := newApp(cfg, baseURL)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to initialize services: %w", err)
		}

		dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
		app.Start(dispatchCtx)

		httpServer := &http.Server{Handler: app.Handler}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Internal HTTP server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
			app.Stop(shutdownCtx, cancelDispatch)
		}()

		log.Printf("Internal HTTP server on %s for MCP stdio", baseURL)
	}

	mcpClient := mcp.NewClient(baseURL)
	log.Println("MCP stdio server ready")

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}
