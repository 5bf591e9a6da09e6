// Package cli is the orchestrator's command tree: a cobra root command,
// a small set of subcommands, signal-driven graceful shutdown, and a
// startup banner. "serve" is the whole program - there is no separate
// agent loop or UI process to start alongside it.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/partarstu/agentic-qa-framework/internal/adapters/fake"
	"github.com/partarstu/agentic-qa-framework/internal/agentrpc"
	"github.com/partarstu/agentic-qa-framework/internal/authn"
	"github.com/partarstu/agentic-qa-framework/internal/config"
	"github.com/partarstu/agentic-qa-framework/internal/dashboard"
	"github.com/partarstu/agentic-qa-framework/internal/discovery"
	"github.com/partarstu/agentic-qa-framework/internal/dispatch"
	"github.com/partarstu/agentic-qa-framework/internal/history"
	"github.com/partarstu/agentic-qa-framework/internal/logging"
	"github.com/partarstu/agentic-qa-framework/internal/recovery"
	"github.com/partarstu/agentic-qa-framework/internal/registry"
	"github.com/partarstu/agentic-qa-framework/internal/router"
	"github.com/partarstu/agentic-qa-framework/internal/router/oracle"
	"github.com/partarstu/agentic-qa-framework/internal/server"
	"github.com/partarstu/agentic-qa-framework/internal/workflow"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

const (
	taskHistoryCapacity  = 100
	errorHistoryCapacity = 50
	logHistoryCapacity   = 50000
	authTokenTTL         = 12 * time.Hour
)

var configOverlayPath string

// Execute builds and runs the root command. Called once from main.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Multi-worker task orchestrator for heterogeneous remote agents",
	}
	cmd.PersistentFlags().StringVar(&configOverlayPath, "config", "", "optional YAML config overlay path")
	cmd.AddCommand(serveCmd(), discoverCmd(), versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the orchestrator version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
}

// world bundles every long-lived component the serve and discover
// commands both need, so they're constructed identically either way.
type world struct {
	cfg        config.Config
	reg        *registry.Registry
	tasks      *history.TaskHistory
	errs       *history.ErrorHistory
	logs       *history.LogHistory
	rpcClient  *agentrpc.Client
	discoverer *discovery.Discoverer
	recLoop    *recovery.Loop
	dispatcher *dispatch.Dispatcher
	rtr        *router.Router
	dashboard  *dashboard.Dashboard
	workflow   *workflow.Context
}

// buildWorld wires every core component per DESIGN.md's grounding
// ledger: registry -> histories -> oracle -> router -> recovery loop ->
// dispatcher -> discovery -> dashboard -> workflow context. Nothing
// here performs I/O beyond constructing clients; network activity
// (discovery's startup scan, the recovery drainer) is started by the
// caller.
func buildWorld(cfg config.Config) (*world, error) {
	reg := registry.New()

	tasks := history.NewTaskHistory(taskHistoryCapacity)
	errs := history.NewErrorHistory(errorHistoryCapacity)
	logs := history.NewLogHistory(logHistoryCapacity)
	logging.AddHook(logs)

	ora, err := oracle.New(oracle.Config{
		Provider: cfg.Oracle.Provider,
		Model:    cfg.Oracle.Model,
		APIKey:   cfg.Oracle.APIKey,
		BaseURL:  cfg.Oracle.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing router oracle: %w", err)
	}
	rtr := router.New(reg, ora)

	rpcClient := agentrpc.NewClient()

	recLoop := recovery.NewLoop(reg, rpcClient, 256)

	taskTimeout := time.Duration(cfg.TaskExecutionTimeoutSeconds) * time.Second
	disp := dispatch.New(reg, rtr, rpcClient, tasks, errs, recLoop.Channel(), taskTimeout)

	disc := discovery.New(reg, rpcClient, cfg.Discovery.RemoteAgentHosts,
		cfg.Discovery.PortRangeStart, cfg.Discovery.PortRangeEnd, cfg.Discovery.SeedHostsFilePath)

	dash := dashboard.New(reg, tasks, errs, logs, time.Now())

	testMgmt := fake.New(nil)
	wc := &workflow.Context{
		Dispatcher: disp,
		Router:     rtr,
		Registry:   reg,
		TestMgmt:   testMgmt,
		TestReport: testMgmt,
	}

	return &world{
		cfg: cfg, reg: reg, tasks: tasks, errs: errs, logs: logs,
		rpcClient: rpcClient, discoverer: disc, recLoop: recLoop,
		dispatcher: disp, rtr: rtr, dashboard: dash, workflow: wc,
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configOverlayPath)
		},
	}
}

func runServe(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	w, err := buildWorld(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	// Discovery's startup scan gates workflow acceptance: it must
	// complete before the HTTP listener starts accepting.
	if err := w.discoverer.StartScheduled(ctx, w.cfg.Discovery.IntervalSeconds); err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}

	go w.recLoop.Run(ctx)

	auth, err := authn.New(w.cfg.Dashboard.Username, w.cfg.Dashboard.Password, w.cfg.Dashboard.JWTSecret, authTokenTTL)
	if err != nil {
		return fmt.Errorf("constructing dashboard authenticator: %w", err)
	}

	handler := server.New(&server.Context{
		Workflow:  w.workflow,
		Dashboard: w.dashboard,
		Auth:      auth,
		APIKey:    w.cfg.APIKey,
		JWTSecret: w.cfg.Dashboard.JWTSecret,
	})

	addr := fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("orchestrator listening on %s", addr)
		printStartupBanner(addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	logging.Info("orchestrator stopped")
	return nil
}

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Run a single discovery scan and print the registry snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configOverlayPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			w, err := buildWorld(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			w.discoverer.Scan(ctx)
			for _, a := range w.reg.ListSnapshot() {
				fmt.Printf("%s\t%s\t%s\n", a.ID, a.Card.Name, a.Status)
			}
			return nil
		},
	}
}

func printStartupBanner(addr string) {
	fmt.Println()
	fmt.Println("  orchestrator is running")
	fmt.Printf("  -> http://%s\n", addr)
	fmt.Println("  press Ctrl+C to stop")
	fmt.Println()
}
