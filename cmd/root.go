// Package cmd defines the jobcrawler command line: the long-running service
// and one-shot triggers for operators.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobcrawler/internal/app"
	"github.com/JakeFAU/jobcrawler/internal/config"
	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/executor"
	"github.com/JakeFAU/jobcrawler/internal/extract"
	"github.com/JakeFAU/jobcrawler/internal/scheduler"
	pkgconfig "github.com/JakeFAU/jobcrawler/pkg/config"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitNoOp  = 3
)

// App is what the commands need from the application container. It is an
// interface so tests can substitute a fake.
type App interface {
	Run(ctx context.Context) error
	RunDue(ctx context.Context) (scheduler.TickReport, error)
	RunSource(ctx context.Context, id string) (crawler.CrawlOutcome, error)
	TestSource(ctx context.Context, id string) (extract.TestReport, error)
	SimulateSource(ctx context.Context, id string, n int) (executor.SimulateResult, error)
	Close()
}

// appKeyType is the key for storing the App in the context.
type appKeyType struct{}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	path, err := pkgconfig.Locate(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Build(ctx, cfg)
}

// exitError carries a process exit code and an optional reason code.
type exitError struct {
	code   int
	reason crawler.Reason
	err    error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// noOp marks a run that had nothing to do.
func noOp(msg string) error {
	return &exitError{code: ExitNoOp, err: errors.New(msg)}
}

// failed marks a run that errored, classifying err for the reason code.
func failed(err error) error {
	return &exitError{code: ExitError, reason: crawler.ReasonOf(err), err: err}
}

// failedWith marks a crawl outcome that errored with a recorded reason.
func failedWith(reason, msg string) error {
	r := crawler.Reason(reason)
	if r == "" {
		r = crawler.ReasonInternal
	}
	return &exitError{code: ExitError, reason: r, err: errors.New(msg)}
}

// newRootCmd creates and configures the root command. The returned func
// closes the application if a subcommand built one; cobra skips post-run
// hooks when RunE fails, so callers close explicitly.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile     string
		appInstance App
	)
	cmd := &cobra.Command{
		Use:   "jobcrawler",
		Short: "Polite, adaptive crawler for job and opportunity postings",
		Long: `jobcrawler crawls configured HTML pages, RSS/Atom feeds and JSON APIs,
normalizes the postings it finds, deduplicates them by fingerprint and
adapts each source's schedule to how often it changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// This hook runs before any subcommand and injects the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipAppAnnotation] == "true" {
				return nil
			}
			built, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			appInstance = built
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, built))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, /etc/jobcrawler or $HOME/.jobcrawler)")

	cmd.AddCommand(
		newServeCmd(),
		newRunDueCmd(),
		newRunSourceCmd(),
		newTestSourceCmd(),
		newSimulateCmd(),
		newValidateSchemaCmd(),
	)
	closeApp := func() {
		if appInstance != nil {
			appInstance.Close()
			appInstance = nil
		}
	}
	return cmd, closeApp
}

// skipAppAnnotation marks commands that run without the application container.
const skipAppAnnotation = "jobcrawler/skip-app"

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKeyType{}).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// run executes the root command with args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, closeApp := newRootCmd()
	defer closeApp()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.reason != "" {
			fmt.Fprintf(stderr, "error: %v\nreason=%s\n", ee, ee.reason)
		} else {
			fmt.Fprintln(stderr, ee.Error())
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "error: %v\nreason=%s\n", err, crawler.ReasonOf(err))
	return ExitError
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
