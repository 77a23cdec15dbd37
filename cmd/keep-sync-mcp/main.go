package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/keep-sync/internal/config"
	"github.com/alexjbarnes/keep-sync/internal/logging"
	"github.com/alexjbarnes/keep-sync/internal/mcpserver"
	"github.com/alexjbarnes/keep-sync/internal/reconcile"
	"github.com/alexjbarnes/keep-sync/internal/remote"
	"github.com/alexjbarnes/keep-sync/internal/state"
	"github.com/alexjbarnes/keep-sync/internal/vault"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stateStore opens the state database per call so a concurrent
// keep-sync run is not locked out for the lifetime of the server.
type stateStore struct {
	path string
}

func (s stateStore) open() (*state.State, error) {
	return state.LoadAt(s.path)
}

// Runs implements mcpserver.RunLister.
func (s stateStore) Runs(limit int) ([]state.Run, error) {
	st, err := s.open()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	return st.Runs(limit)
}

// planner builds a dry-run engine for each sync_plan call.
type planner struct {
	cfg    *config.Config
	store  stateStore
	vault  *vault.Vault
	filter *vault.Filter
	logger *slog.Logger
}

func (p *planner) Plan(ctx context.Context, fullSync bool) (*reconcile.Result, error) {
	st, err := p.store.open()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	token, err := p.cfg.ResolveToken(st.Token())
	if err != nil {
		return nil, err
	}

	client := remote.NewClient(p.cfg.APIURL, token, &http.Client{Timeout: p.cfg.HTTPTimeout}, p.logger)

	eng := reconcile.New(reconcile.Config{
		Vault:   p.vault,
		Filter:  p.filter,
		Store:   client,
		Cache:   st,
		History: st,
		Options: reconcile.Options{
			DryRun:       true,
			FullSync:     fullSync,
			TogglePolicy: reconcile.TogglePolicy(p.cfg.TogglePolicy),
		},
		Workers:            p.cfg.Workers,
		ListRewriteTimeout: p.cfg.ListRewriteTimeout,
		Out:                io.Discard,
		Logger:             p.logger,
	})

	return eng.Run(ctx)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// stdout carries the MCP protocol.
	logger, closer := logging.New(cfg.Environment, logging.Options{File: cfg.LogFile, Out: os.Stderr})
	defer closer.Close()

	logger.Info("opening mirror", slog.String("path", cfg.MirrorDir))
	v, err := vault.New(cfg.MirrorDir)
	if err != nil {
		return fmt.Errorf("opening mirror: %w", err)
	}

	filter, err := vault.NewFilter(cfg.Ignore)
	if err != nil {
		return fmt.Errorf("parsing KEEP_IGNORE: %w", err)
	}

	store := stateStore{path: cfg.StatePath}

	server := mcp.NewServer(
		&mcp.Implementation{Name: "keep-sync-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(server, mcpserver.Deps{
		Vault:  v,
		Filter: filter,
		Planner: &planner{
			cfg:    cfg,
			store:  store,
			vault:  v,
			filter: filter,
			logger: logger,
		},
		Runs:    store,
		Workers: cfg.Workers,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("serving MCP over stdio", slog.String("version", Version))

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	logger.Info("server stopped")

	return nil
}
