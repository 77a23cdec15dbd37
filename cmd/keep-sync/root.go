package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/keep-sync/internal/config"
	"github.com/alexjbarnes/keep-sync/internal/logging"
	"github.com/alexjbarnes/keep-sync/internal/reconcile"
	"github.com/alexjbarnes/keep-sync/internal/remote"
	"github.com/alexjbarnes/keep-sync/internal/state"
	"github.com/alexjbarnes/keep-sync/internal/ui"
	"github.com/alexjbarnes/keep-sync/internal/vault"
	"github.com/spf13/cobra"
)

// runFlags mirrors the command line run mode.
type runFlags struct {
	forcePush          bool
	forcePullOverwrite bool
	cherryPick         bool
	automatic          bool
	dryRun             bool
	skipPull           bool
	skipPush           bool
	fullSync           bool
	yes                bool
	verbose            bool
}

var flags runFlags

var rootCmd = &cobra.Command{
	Use:   "keep-sync",
	Short: "Reconcile a remote note store with a local markdown mirror",
	Long: `keep-sync pulls remote notes into a directory of markdown files with
YAML headers, then pushes local edits back. Remote changes win on pull
unless the local file is newer; local changes are pushed only when they
differ materially from the remote note.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSync,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVar(&flags.forcePush, "forcePush", false, "push every materially changed local note, even when the remote is newer")
	f.BoolVar(&flags.forcePullOverwrite, "forcePullOverwrite", false, "overwrite local files from the remote even when the local file is newer")
	f.BoolVar(&flags.cherryPick, "cherryPick", false, "ask which side wins for every conflicting note")
	f.BoolVar(&flags.automatic, "automaticSync", false, "no prompts; fail the run on conflicts after syncing everything else")
	f.BoolVar(&flags.dryRun, "dryRun", false, "report what would happen without changing anything")
	f.BoolVar(&flags.skipPull, "skipPull", false, "skip the pull pass")
	f.BoolVar(&flags.skipPush, "skipPush", false, "skip the push pass")
	f.BoolVar(&flags.fullSync, "full-sync", false, "ignore the cached remote snapshot and list every note")
	f.BoolVarP(&flags.yes, "yes", "y", false, "push without asking for confirmation")

	rootCmd.MarkFlagsMutuallyExclusive("forcePush", "forcePullOverwrite")
	rootCmd.MarkFlagsMutuallyExclusive("skipPull", "skipPush")

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Version = Version
}

// options turns the flags into engine run options.
func (f runFlags) options(policy string) reconcile.Options {
	return reconcile.Options{
		Automatic:          f.automatic,
		CherryPick:         f.cherryPick,
		ForcePush:          f.forcePush,
		ForcePullOverwrite: f.forcePullOverwrite,
		DryRun:             f.dryRun,
		SkipPull:           f.skipPull,
		SkipPush:           f.skipPush,
		FullSync:           f.fullSync,
		Yes:                f.yes,
		TogglePolicy:       reconcile.TogglePolicy(policy),
	}
}

// newLogger builds the process logger. Logs go to stderr so stdout
// carries only the action log and summary.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer) {
	return logging.New(cfg.Environment, logging.Options{
		Verbose: flags.verbose,
		File:    cfg.LogFile,
		Out:     os.Stderr,
	})
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closer := newLogger(cfg)
	defer closer.Close()

	opts := flags.options(cfg.TogglePolicy)
	logger.Info("keep-sync starting",
		slog.String("version", Version),
		slog.String("mirror", cfg.MirrorDir),
		slog.Bool("dry_run", opts.DryRun),
		slog.Bool("automatic", opts.Automatic),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	eng, err := newEngine(cfg, appState, opts, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}

	res, runErr := eng.Run(ctx)
	report(cmd.OutOrStdout(), res)

	if runErr != nil {
		return runErr
	}

	logger.Info("keep-sync finished", slog.String("run_id", res.RunID))

	return nil
}

// newEngine wires the mirror, the HTTP store and the state database into
// an engine.
func newEngine(cfg *config.Config, appState *state.State, opts reconcile.Options, out io.Writer, logger *slog.Logger) (*reconcile.Engine, error) {
	token, err := cfg.ResolveToken(appState.Token())
	if err != nil {
		return nil, err
	}

	v, err := vault.New(cfg.MirrorDir)
	if err != nil {
		return nil, fmt.Errorf("opening mirror: %w", err)
	}

	filter, err := vault.NewFilter(cfg.Ignore)
	if err != nil {
		return nil, fmt.Errorf("parsing KEEP_IGNORE: %w", err)
	}

	client := remote.NewClient(cfg.APIURL, token, &http.Client{Timeout: cfg.HTTPTimeout}, logger)
	prompter := ui.NewPrompter(os.Stdin, os.Stdout, !ui.IsTerminal(os.Stdin))

	return reconcile.New(reconcile.Config{
		Vault:              v,
		Filter:             filter,
		Store:              client,
		Cache:              appState,
		History:            appState,
		Resolver:           prompter,
		Confirmer:          prompter,
		Options:            opts,
		Workers:            cfg.Workers,
		ListRewriteTimeout: cfg.ListRewriteTimeout,
		SyncLogNote:        cfg.SyncLogNote,
		Out:                out,
		Logger:             logger,
	}), nil
}

func report(out io.Writer, res *reconcile.Result) {
	if res == nil {
		return
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, ui.SummaryTable(res.Summary))

	if len(res.Conflicts) > 0 {
		fmt.Fprint(out, ui.ConflictList(res.Conflicts))
	}
}

// stateOnly opens the state database without requiring the mirror
// configuration.
func stateOnly() (*state.State, error) {
	path, err := config.StatePath()
	if err != nil {
		return nil, err
	}

	appState, err := state.LoadAt(path)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	return appState, nil
}
