// Command lattixd runs the conversational code-assistant backend.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattixhq/lattix"
	"github.com/lattixhq/lattix/git"
	indexdocker "github.com/lattixhq/lattix/index/docker"
	"github.com/lattixhq/lattix/internal/config"
	"github.com/lattixhq/lattix/internal/server"
	"github.com/lattixhq/lattix/observer"
	"github.com/lattixhq/lattix/provider/openaicompat"
	"github.com/lattixhq/lattix/store/postgres"
	"github.com/lattixhq/lattix/store/sqlite"
	"github.com/lattixhq/lattix/tools/codesearch"
	"github.com/lattixhq/lattix/tools/depgraph"
	"github.com/lattixhq/lattix/tools/discover"
	"github.com/lattixhq/lattix/tools/docs"
	"github.com/lattixhq/lattix/tools/graphquery"
)

// stores is the union of persistence contracts the daemon wires, satisfied
// by both the sqlite and postgres implementations.
type stores interface {
	lattix.ConversationStore
	lattix.RepositoryStore
	lattix.GraphStore
	lattix.EntityWriter
	lattix.EntityReader
	lattix.DocsStore
	Init(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "lattix.toml", "path to the TOML config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("lattixd exited with error", "error", err)
		os.Exit(1)
	}
}

// run wires the system and blocks until shutdown. Startup order: stores →
// observability → hub → dispatcher → HTTP; shutdown reverses it (reject new
// requests, drain the hub, await workers within the grace window).
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Store selection: postgres when a DSN is configured, sqlite otherwise.
	var st stores
	if cfg.Database.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		st = postgres.New(pool)
	} else {
		sq := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
		defer sq.Close()
		st = sq
	}
	if err := st.Init(ctx); err != nil {
		return err
	}

	// Observability (optional).
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdownObs func(context.Context) error
		var err error
		inst, shutdownObs, err = observer.Init(ctx)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = shutdownObs(sctx)
		}()
	}

	gitc := git.New(git.WithLogger(logger), git.WithTimeout(cfg.Git.GitTimeout()))

	indexer, err := indexdocker.New(st,
		indexdocker.WithImage(cfg.Indexing.ParserImage),
		indexdocker.WithLogger(logger))
	if err != nil {
		return err
	}

	hub := lattix.NewStreamHub(lattix.HubLogger(logger))
	convos := lattix.NewConversations(st)

	gate := lattix.NewLifecycleGate(st, st, gitc, indexer, hub,
		lattix.GateWorkspaceDir(cfg.Workspace.Dir),
		lattix.GateDefaultBranch(cfg.Git.DefaultBranch),
		lattix.GatePollInterval(cfg.Indexing.PollInterval()),
		lattix.GateLogger(logger))

	registry := lattix.NewRegistry()
	for _, t := range []lattix.Tool{
		discover.New(st),
		codesearch.New(st),
		codesearch.NewSemantic(st),
		depgraph.New(st),
		graphquery.New(st),
		docs.New(st),
	} {
		if inst != nil {
			t = observer.WrapTool(t, inst)
		}
		registry.Register(t)
	}

	selector := buildProvider(cfg.Selector, "selector", inst)
	synthesizer := buildProvider(cfg.Synth, "synthesizer", inst)

	chain := lattix.NewInterceptorChain(logger, gate)
	agent := lattix.NewAgent(registry, chain, selector, synthesizer, convos, hub,
		lattix.AgentMaxIterations(cfg.Agent.MaxToolIterations),
		lattix.AgentLogger(logger))

	dispatcher := lattix.NewDispatcher("lattix-conversations",
		lattix.DispatcherWorkers(cfg.Agent.Executor.MaxPool),
		lattix.DispatcherQueue(cfg.Agent.Executor.Queue),
		lattix.DispatcherLogger(logger))

	api := server.New(server.Deps{
		Convos:        convos,
		Hub:           hub,
		Agent:         agent,
		Dispatcher:    dispatcher,
		Gate:          gate,
		Repos:         st,
		Graph:         st,
		Reader:        st,
		DocsStore:     st,
		Git:           gitc,
		Logger:        logger,
		DefaultBranch: cfg.Git.DefaultBranch,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("lattixd listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 70*time.Second)
	defer cancel()

	// Stop accepting traffic, let the hub release stream subscribers, then
	// wait for in-flight workers.
	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	hub.Drain()
	if err := dispatcher.Shutdown(sctx); err != nil {
		logger.Warn("dispatcher shutdown", "error", err)
	}
	return nil
}

// buildProvider constructs one model endpoint with retry and optional
// instrumentation. The selector's configured temperature (0.0 by default)
// keeps tool choice deterministic.
func buildProvider(mc config.ModelConfig, label string, inst *observer.Instruments) lattix.ModelProvider {
	opts := []openaicompat.Option{openaicompat.WithName(label)}
	if mc.Temperature != nil {
		opts = append(opts, openaicompat.WithTemperature(*mc.Temperature))
	}
	var p lattix.ModelProvider = openaicompat.New(mc.APIKey, mc.Model, mc.BaseURL, opts...)
	if inst != nil {
		p = observer.WrapProvider(p, mc.Model, inst)
	}
	return lattix.WithRetry(p)
}
